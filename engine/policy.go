package engine

import (
	"strings"

	"github.com/c360studio/taskpilot/task"
)

// Policy holds the tunable constants governing workflow decisions. The
// defaults reflect observed operating behavior; deployments override them
// through configuration rather than code.
type Policy struct {
	// RiskKeywords force human verification when present in the task
	// description or plan text.
	RiskKeywords []string `json:"risk_keywords" yaml:"risk_keywords"`

	// RisksLengthThreshold forces verification when the plan's risks
	// section is at least this many characters.
	RisksLengthThreshold int `json:"risks_length_threshold" yaml:"risks_length_threshold"`

	// MaxFilesWithoutReview forces verification when the plan touches more
	// than this many files.
	MaxFilesWithoutReview int `json:"max_files_without_review" yaml:"max_files_without_review"`

	// TestFixAttempts bounds automatic fix-and-rerun rounds after a failing
	// test run.
	TestFixAttempts int `json:"test_fix_attempts" yaml:"test_fix_attempts"`

	// TestCommand is the command run during the testing stage.
	TestCommand []string `json:"test_command" yaml:"test_command"`
}

// DefaultPolicy returns the standard policy constants.
func DefaultPolicy() Policy {
	return Policy{
		RiskKeywords: []string{
			"architecture",
			"database",
			"api",
			"security",
			"performance",
			"breaking change",
			"migration",
			"refactor",
			"integration",
		},
		RisksLengthThreshold:  200,
		MaxFilesWithoutReview: 3,
		TestFixAttempts:       1,
		TestCommand:           []string{"make", "test"},
	}
}

// RequiresVerification decides whether a plan needs human approval before
// implementation. Deterministic: keyword presence, risks length, or file
// count can each trigger it.
func (p Policy) RequiresVerification(description string, plan *task.Plan) bool {
	haystack := strings.ToLower(description)
	if plan != nil {
		haystack += "\n" + strings.ToLower(plan.Raw)
	}

	for _, kw := range p.RiskKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}

	if plan != nil {
		if len(plan.Risks) >= p.RisksLengthThreshold {
			return true
		}
		if len(plan.Files) > p.MaxFilesWithoutReview {
			return true
		}
	}

	return false
}
