package session

import "strings"

// intent is the coarse classification of a user turn.
type intent string

const (
	intentCancel    intent = "cancel"
	intentConfirm   intent = "confirm"
	intentDeny      intent = "deny"
	intentKnowledge intent = "knowledge"
	intentSchedule  intent = "schedule"
)

var (
	cancelPhrases  = []string{"cancel", "never mind", "nevermind", "stop", "quit", "forget it"}
	confirmPhrases = []string{"yes", "yep", "yeah", "confirm", "correct", "ok", "okay", "sure", "book it", "go ahead"}
	denyPhrases    = []string{"no", "nope", "wrong", "change", "not that"}
	questionLeads  = []string{"what", "where", "when", "why", "how", "who", "do you", "can i", "can you", "is there", "are there", "tell me about"}
	bookingWords   = []string{"book", "schedule", "appointment", "reserve", "slot", "see the doctor", "visit"}
)

// classify decides what the user turn is trying to do. awaitingYesNo widens
// confirm/deny matching to short answers that would otherwise be ambiguous.
func classify(input string, extracted Fields, awaitingYesNo bool) intent {
	lower := strings.ToLower(strings.TrimSpace(input))

	if matchesAny(lower, cancelPhrases) {
		return intentCancel
	}
	if awaitingYesNo {
		if matchesAny(lower, confirmPhrases) {
			return intentConfirm
		}
		if matchesAny(lower, denyPhrases) {
			return intentDeny
		}
	}

	hasFields := extracted.PatientID != "" || extracted.DoctorID != "" || !extracted.Start.IsZero()
	if !hasFields && isQuestion(lower) && !containsAny(lower, bookingWords) {
		return intentKnowledge
	}
	return intentSchedule
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func isQuestion(lower string) bool {
	if strings.HasSuffix(lower, "?") {
		return true
	}
	for _, lead := range questionLeads {
		if strings.HasPrefix(lower, lead+" ") || lower == lead {
			return true
		}
	}
	return false
}

func matchesAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if lower == p || strings.HasPrefix(lower, p+" ") || strings.HasPrefix(lower, p+",") || strings.HasPrefix(lower, p+".") {
			return true
		}
	}
	return false
}
