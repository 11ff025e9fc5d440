package rubric

import "fmt"

// Mode is one analysis kind. Each mode has its own rubric and expected
// result shape.
type Mode string

const (
	ModeReview   Mode = "review"
	ModeAnalyze  Mode = "analyze"
	ModePriority Mode = "priority"
)

// AllModes returns the modes in their canonical run order.
func AllModes() []Mode {
	return []Mode{ModeAnalyze, ModePriority, ModeReview}
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReview, ModeAnalyze, ModePriority:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode: %q", s)
}

// ResultFilename returns the canonical result file name for a mode inside
// a run directory.
func ResultFilename(m Mode) string {
	switch m {
	case ModeAnalyze:
		return "change_analysis.json"
	case ModePriority:
		return "review_priority.json"
	default:
		return "review_result.json"
	}
}
