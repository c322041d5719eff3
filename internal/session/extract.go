package session

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultSlotDuration applies when the user names a start time but no end.
const DefaultSlotDuration = 30 * time.Minute

var (
	patientRe = regexp.MustCompile(`\bPAT-\d{4}\b`)
	doctorRe  = regexp.MustCompile(`\bDR-\d{3}\b`)
	clock24Re = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	clock12Re = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*(am|pm)\b`)
)

// extractFields pulls identifiers and a requested window out of free text.
// now anchors relative day words; slotDuration fills the window end.
func extractFields(input string, now time.Time, slotDuration time.Duration) Fields {
	if slotDuration <= 0 {
		slotDuration = DefaultSlotDuration
	}
	var f Fields
	if m := patientRe.FindString(input); m != "" {
		f.PatientID = m
	}
	if m := doctorRe.FindString(input); m != "" {
		f.DoctorID = m
	}
	if start, ok := extractStart(input, now); ok {
		f.Start = start
		f.End = start.Add(slotDuration)
	}
	return f
}

func extractStart(input string, now time.Time) (time.Time, bool) {
	hour, minute, ok := extractClock(input)
	if !ok {
		return time.Time{}, false
	}

	lower := strings.ToLower(input)
	day := now
	explicitDay := false
	switch {
	case strings.Contains(lower, "tomorrow"):
		day = now.AddDate(0, 0, 1)
		explicitDay = true
	case strings.Contains(lower, "today"):
		explicitDay = true
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	// A bare clock time that already passed today means the next day.
	if !explicitDay && start.Before(now) {
		start = start.AddDate(0, 0, 1)
	}
	return start, true
}

func extractClock(input string) (hour, minute int, ok bool) {
	if m := clock12Re.FindStringSubmatch(input); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if strings.EqualFold(m[3], "pm") && hour != 12 {
			hour += 12
		}
		if strings.EqualFold(m[3], "am") && hour == 12 {
			hour = 0
		}
		return hour, minute, true
	}
	if m := clock24Re.FindStringSubmatch(input); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		return hour, minute, true
	}
	return 0, 0, false
}
