package domain

import "strings"

// ReminderPreset is a named set of day thresholds a user receives reminders for.
type ReminderPreset string

const (
	PresetAggressive ReminderPreset = "aggressive"
	PresetRelaxed    ReminderPreset = "relaxed"
	PresetMinimal    ReminderPreset = "minimal"
)

// DefaultPreset is applied when a user has never chosen one.
const DefaultPreset = PresetAggressive

// ParsePreset normalizes a stored preset value. Empty and unknown values fall
// back to DefaultPreset.
func ParsePreset(raw string) ReminderPreset {
	switch p := ReminderPreset(strings.ToLower(strings.TrimSpace(raw))); p {
	case PresetAggressive, PresetRelaxed, PresetMinimal:
		return p
	}
	return DefaultPreset
}

// FlagName identifies one of the four per-period reminder flags. The values
// double as the column names in the subscriptions table.
type FlagName string

const (
	FlagSent14 FlagName = "reminder_14_day_sent"
	FlagSent7  FlagName = "reminder_7_day_sent"
	FlagSent3  FlagName = "reminder_3_day_sent"
	FlagSent1  FlagName = "reminder_1_day_sent"
)

// Valid reports whether f names one of the four flags.
func (f FlagName) Valid() bool {
	switch f {
	case FlagSent14, FlagSent7, FlagSent3, FlagSent1:
		return true
	}
	return false
}

// ReminderFlags records which reminders were already sent for the current
// billing period.
type ReminderFlags struct {
	Sent14 bool `json:"sent_14"`
	Sent7  bool `json:"sent_7"`
	Sent3  bool `json:"sent_3"`
	Sent1  bool `json:"sent_1"`
}

// Get returns the value of the named flag. Unknown names read as false.
func (f ReminderFlags) Get(name FlagName) bool {
	switch name {
	case FlagSent14:
		return f.Sent14
	case FlagSent7:
		return f.Sent7
	case FlagSent3:
		return f.Sent3
	case FlagSent1:
		return f.Sent1
	}
	return false
}

// Set marks the named flag as sent. Unknown names are ignored.
func (f *ReminderFlags) Set(name FlagName) {
	switch name {
	case FlagSent14:
		f.Sent14 = true
	case FlagSent7:
		f.Sent7 = true
	case FlagSent3:
		f.Sent3 = true
	case FlagSent1:
		f.Sent1 = true
	}
}

// Count returns the number of flags currently set.
func (f ReminderFlags) Count() int {
	n := 0
	for _, v := range []bool{f.Sent14, f.Sent7, f.Sent3, f.Sent1} {
		if v {
			n++
		}
	}
	return n
}

// Reset clears all four flags.
func (f *ReminderFlags) Reset() {
	*f = ReminderFlags{}
}

// ReminderState is the per-period reminder lifecycle of a subscription.
type ReminderState string

const (
	StateNoReminderSent ReminderState = "no_reminder_sent"
	StatePartial        ReminderState = "partial"
	StatePeriodClosed   ReminderState = "period_closed"
)
