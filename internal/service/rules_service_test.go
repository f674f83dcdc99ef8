package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enroll-api/internal/models"
)

func baseFacts() models.StudentFacts {
	return models.StudentFacts{
		StudentID:     "student-1",
		InstitutionID: "inst-1",
		Major:         "Computer Science",
		Department:    "Engineering",
		Year:          3,
		GPA:           3.2,
		Courses: []models.CourseRecord{
			{CourseID: "CS101", Grade: 3.5, Completed: true},
			{CourseID: "CS201", Grade: 2.8, Completed: false},
		},
	}
}

func ruleSetWith(cfg models.ClassEnrollmentConfig, prereqs []models.Prerequisite, restricts []models.Restriction) models.ClassRuleSet {
	if cfg.Capacity == 0 {
		cfg.Capacity = 30
	}
	cfg.ClassID = "class-1"
	cfg.InstitutionID = "inst-1"
	return models.ClassRuleSet{Config: cfg, Prerequisites: prereqs, Restrictions: restricts}
}

func TestEvaluateEligibilityIsDeterministic(t *testing.T) {
	svc := NewRulesService()
	facts := baseFacts()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{}, []models.Prerequisite{
		{Type: models.PrerequisiteGPA, Requirement: "3.5"},
		{Type: models.PrerequisiteCourse, Requirement: "CS101"},
	}, []models.Restriction{
		{Type: models.RestrictionYear, Condition: "2"},
	})

	first := svc.EvaluateEligibility(facts, ruleSet, now)
	second := svc.EvaluateEligibility(facts, ruleSet, now)
	assert.Equal(t, first, second)
}

func TestEvaluateEligibilityAllPass(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{}, []models.Prerequisite{
		{Type: models.PrerequisiteGPA, Requirement: "3.0"},
		{Type: models.PrerequisiteCourse, Requirement: "CS101"},
		{Type: models.PrerequisiteYear, Requirement: "2"},
		{Type: models.PrerequisiteMajor, Requirement: "computer science"},
	}, []models.Restriction{
		{Type: models.RestrictionDepartment, Condition: "Engineering, Science"},
		{Type: models.RestrictionInstitution, Condition: "inst-1"},
	})

	result := svc.EvaluateEligibility(baseFacts(), ruleSet, now)
	assert.True(t, result.Eligible)
	assert.Empty(t, result.Reasons)
	assert.Empty(t, result.RecommendedActions)
}

func TestEvaluateEligibilityClosedWindowBlocks(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-48 * time.Hour)
	end := now.Add(-time.Hour)
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{
		EnrollmentStart: &start,
		EnrollmentEnd:   &end,
	}, nil, nil)

	result := svc.EvaluateEligibility(baseFacts(), ruleSet, now)
	require.Len(t, result.Reasons, 1)
	assert.False(t, result.Eligible)
	assert.Equal(t, "enrollment_window", result.Reasons[0].Type)
	// Window violations can never be waved through.
	assert.False(t, result.Reasons[0].Overridable)
	assert.True(t, result.Reasons[0].Blocking())
}

func TestEvaluateEligibilityWindowNotYetOpen(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{EnrollmentStart: &start}, nil, nil)

	result := svc.EvaluateEligibility(baseFacts(), ruleSet, now)
	assert.False(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.Contains(t, result.Reasons[0].Message, "enrollment opens at")
}

func TestEvaluateEligibilityStrictVsOverridablePrerequisite(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	facts := baseFacts()
	facts.GPA = 2.0

	strict := ruleSetWith(models.ClassEnrollmentConfig{}, []models.Prerequisite{
		{Type: models.PrerequisiteGPA, Requirement: "3.0", Strict: true},
	}, nil)
	result := svc.EvaluateEligibility(facts, strict, now)
	assert.False(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.False(t, result.Reasons[0].Overridable)

	// The same failure on a non-strict rule does not block by itself.
	lenient := ruleSetWith(models.ClassEnrollmentConfig{}, []models.Prerequisite{
		{Type: models.PrerequisiteGPA, Requirement: "3.0"},
	}, nil)
	result = svc.EvaluateEligibility(facts, lenient, now)
	assert.True(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.True(t, result.Reasons[0].Overridable)
	require.Len(t, result.RecommendedActions, 1)
	assert.Contains(t, result.RecommendedActions[0], "prerequisite override")
}

func TestEvaluateEligibilityIncompleteCourseFails(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{}, []models.Prerequisite{
		{Type: models.PrerequisiteCourse, Requirement: "CS201", Strict: true},
	}, nil)

	// CS201 is on the record but not completed.
	result := svc.EvaluateEligibility(baseFacts(), ruleSet, now)
	assert.False(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, "prerequisite_course", result.Reasons[0].Type)
}

func TestEvaluateEligibilityMalformedRuleWarnsOnly(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{}, []models.Prerequisite{
		{Type: models.PrerequisiteGPA, Requirement: "not-a-number", Strict: true},
	}, []models.Restriction{
		{Type: models.RestrictionYear, Condition: "junior"},
	})

	result := svc.EvaluateEligibility(baseFacts(), ruleSet, now)
	assert.True(t, result.Eligible)
	require.Len(t, result.Reasons, 2)
	for _, reason := range result.Reasons {
		assert.Equal(t, models.SeverityWarning, reason.Severity)
		assert.False(t, reason.Blocking())
	}
}

func TestEvaluateEligibilityRestrictionList(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{}, nil, []models.Restriction{
		{Type: models.RestrictionMajor, Condition: "Mathematics, computer science , Physics"},
	})

	result := svc.EvaluateEligibility(baseFacts(), ruleSet, now)
	assert.True(t, result.Eligible)
	assert.Empty(t, result.Reasons)

	facts := baseFacts()
	facts.Major = "History"
	result = svc.EvaluateEligibility(facts, ruleSet, now)
	assert.False(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, "restriction_major", result.Reasons[0].Type)
}

func TestEvaluateEligibilityOverridableRestriction(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	facts := baseFacts()
	facts.Department = "Business"
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{}, nil, []models.Restriction{
		{Type: models.RestrictionDepartment, Condition: "Engineering", Overridable: true},
	})

	result := svc.EvaluateEligibility(facts, ruleSet, now)
	assert.True(t, result.Eligible)
	require.Len(t, result.Reasons, 1)
	assert.True(t, result.Reasons[0].Overridable)
}

func TestEvaluateEligibilityDedupesActions(t *testing.T) {
	svc := NewRulesService()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	facts := baseFacts()
	facts.Department = "Business"
	facts.Major = "History"
	ruleSet := ruleSetWith(models.ClassEnrollmentConfig{}, nil, []models.Restriction{
		{Type: models.RestrictionDepartment, Condition: "Engineering", Overridable: true},
		{Type: models.RestrictionMajor, Condition: "Computer Science", Overridable: true},
	})

	result := svc.EvaluateEligibility(facts, ruleSet, now)
	assert.True(t, result.Eligible)
	assert.Len(t, result.Reasons, 2)
	// Both restrictions recommend the same action; it is reported once.
	assert.Len(t, result.RecommendedActions, 1)
}
