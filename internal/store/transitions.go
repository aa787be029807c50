package store

import "github.com/lakshmishasr24-hub/Smart-Queue/internal/models"

const (
	ActionCallNext = "call_next"
	ActionFinish   = "finish_called"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]string{
	ActionCallNext: {models.StatusWaiting},
	ActionFinish:   {models.StatusCalled},
	ActionComplete: {models.StatusWaiting, models.StatusCalled},
	ActionCancel:   {models.StatusWaiting, models.StatusCalled},
}

func ValidTransition(action, fromStatus string) bool {
	for _, status := range AllowedFrom(action) {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AllowedFrom returns the source statuses an action may match.
func AllowedFrom(action string) []string {
	allowed, ok := transitionMap[action]
	if !ok {
		return nil
	}
	out := make([]string, len(allowed))
	copy(out, allowed)
	return out
}

// CancelFrom is the cancel source set under the given policy.
func CancelFrom(allowCalled bool) []string {
	if allowCalled {
		return AllowedFrom(ActionCancel)
	}
	return []string{models.StatusWaiting}
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}

// Matches reports whether status is one of the allowed source statuses.
func Matches(allowed []string, status string) bool {
	return contains(allowed, status)
}
