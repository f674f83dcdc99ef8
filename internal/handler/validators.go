package handler

import (
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// RegisterValidations installs custom binding validations on gin's
// validator engine. Call once at startup before serving requests.
func RegisterValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterValidation("override_type", func(fl validator.FieldLevel) bool { //nolint:errcheck
		switch models.OverrideType(strings.ToUpper(fl.Field().String())) {
		case models.OverrideCapacity, models.OverridePrerequisite, models.OverrideDeadline:
			return true
		default:
			return false
		}
	})
}
