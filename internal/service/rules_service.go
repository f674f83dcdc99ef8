package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

// RulesService evaluates prerequisites, restrictions, and enrollment-window
// validity for a (student, class) pair. It is a pure function over the
// supplied facts: no I/O, no mutation, identical output for identical input.
type RulesService struct{}

// NewRulesService constructs the rules engine.
func NewRulesService() *RulesService {
	return &RulesService{}
}

// EvaluateEligibility applies every attached rule to the student facts.
// Eligible is false exactly when a non-overridable error reason exists;
// warnings and overridable errors never block on their own.
func (s *RulesService) EvaluateEligibility(facts models.StudentFacts, ruleSet models.ClassRuleSet, now time.Time) models.EligibilityResult {
	var reasons []models.EligibilityReason
	var actions []string

	if reason := evaluateWindow(ruleSet.Config, now); reason != nil {
		reasons = append(reasons, *reason)
	}

	for _, prereq := range ruleSet.Prerequisites {
		if reason := evaluatePrerequisite(prereq, facts); reason != nil {
			reasons = append(reasons, *reason)
			if reason.Overridable {
				actions = append(actions, fmt.Sprintf("request a prerequisite override for %s", prereq.Requirement))
			}
		}
	}

	for _, restriction := range ruleSet.Restrictions {
		if reason := evaluateRestriction(restriction, facts); reason != nil {
			reasons = append(reasons, *reason)
			if reason.Overridable {
				actions = append(actions, "contact the instructor about a restriction exception")
			}
		}
	}

	eligible := true
	for _, reason := range reasons {
		if reason.Blocking() {
			eligible = false
			break
		}
	}

	return models.EligibilityResult{Eligible: eligible, Reasons: reasons, RecommendedActions: dedupe(actions)}
}

// Enrollment-window violations are never overridable.
func evaluateWindow(cfg models.ClassEnrollmentConfig, now time.Time) *models.EligibilityReason {
	if cfg.EnrollmentStart != nil && now.Before(*cfg.EnrollmentStart) {
		return &models.EligibilityReason{
			Type:     "enrollment_window",
			Message:  fmt.Sprintf("enrollment opens at %s", cfg.EnrollmentStart.Format(time.RFC3339)),
			Severity: models.SeverityError,
		}
	}
	if cfg.EnrollmentEnd != nil && !now.Before(*cfg.EnrollmentEnd) {
		return &models.EligibilityReason{
			Type:     "enrollment_window",
			Message:  fmt.Sprintf("enrollment closed at %s", cfg.EnrollmentEnd.Format(time.RFC3339)),
			Severity: models.SeverityError,
		}
	}
	return nil
}

func evaluatePrerequisite(prereq models.Prerequisite, facts models.StudentFacts) *models.EligibilityReason {
	fail := func(message string) *models.EligibilityReason {
		return &models.EligibilityReason{
			Type:        "prerequisite_" + strings.ToLower(string(prereq.Type)),
			Message:     message,
			Severity:    models.SeverityError,
			Overridable: !prereq.Strict,
		}
	}

	switch prereq.Type {
	case models.PrerequisiteCourse:
		for _, course := range facts.Courses {
			if course.CourseID == prereq.Requirement && course.Completed {
				return nil
			}
		}
		return fail(fmt.Sprintf("course %s must be completed first", prereq.Requirement))
	case models.PrerequisiteGPA:
		min, err := strconv.ParseFloat(prereq.Requirement, 64)
		if err != nil {
			return malformedRule("prerequisite_gpa", prereq.Requirement)
		}
		if facts.GPA < min {
			return fail(fmt.Sprintf("GPA %.2f is below the required %.2f", facts.GPA, min))
		}
	case models.PrerequisiteYear:
		min, err := strconv.Atoi(prereq.Requirement)
		if err != nil {
			return malformedRule("prerequisite_year", prereq.Requirement)
		}
		if facts.Year < min {
			return fail(fmt.Sprintf("year %d is below the required year %d", facts.Year, min))
		}
	case models.PrerequisiteMajor:
		if !strings.EqualFold(facts.Major, prereq.Requirement) {
			return fail(fmt.Sprintf("major %s is required", prereq.Requirement))
		}
	default:
		return malformedRule("prerequisite", string(prereq.Type))
	}
	return nil
}

func evaluateRestriction(restriction models.Restriction, facts models.StudentFacts) *models.EligibilityReason {
	fail := func(message string) *models.EligibilityReason {
		return &models.EligibilityReason{
			Type:        "restriction_" + strings.ToLower(string(restriction.Type)),
			Message:     message,
			Severity:    models.SeverityError,
			Overridable: restriction.Overridable,
		}
	}

	switch restriction.Type {
	case models.RestrictionMajor:
		if !matchesAny(facts.Major, restriction.Condition) {
			return fail(fmt.Sprintf("class is restricted to majors: %s", restriction.Condition))
		}
	case models.RestrictionDepartment:
		if !matchesAny(facts.Department, restriction.Condition) {
			return fail(fmt.Sprintf("class is restricted to departments: %s", restriction.Condition))
		}
	case models.RestrictionYear:
		min, err := strconv.Atoi(restriction.Condition)
		if err != nil {
			return malformedRule("restriction_year", restriction.Condition)
		}
		if facts.Year < min {
			return fail(fmt.Sprintf("class is restricted to year %d and above", min))
		}
	case models.RestrictionInstitution:
		if !strings.EqualFold(facts.InstitutionID, restriction.Condition) {
			return fail("class is restricted to another institution")
		}
	default:
		return malformedRule("restriction", string(restriction.Type))
	}
	return nil
}

// A rule the engine cannot parse surfaces as a warning so a data problem in
// the rule table never silently blocks every student.
func malformedRule(ruleType, raw string) *models.EligibilityReason {
	return &models.EligibilityReason{
		Type:     ruleType,
		Message:  fmt.Sprintf("rule %q could not be evaluated", raw),
		Severity: models.SeverityWarning,
	}
}

func matchesAny(value, conditions string) bool {
	for _, candidate := range strings.Split(conditions, ",") {
		if strings.EqualFold(strings.TrimSpace(candidate), value) {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
