package schedule

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Record is one argument record as configured on a trigger card.
//
// Either Schedule is set (raw expression) or the structured time fields are.
// JSON/YAML keys are snake_case; camelCase dayOfMonth/dayOfWeek are accepted
// on decode for records exported from other tools.
type Record struct {
	Schedule   string `json:"schedule,omitempty"`
	Second     string `json:"second,omitempty"`
	Minute     string `json:"minute,omitempty"`
	Hour       string `json:"hour,omitempty"`
	DayOfMonth string `json:"day_of_month,omitempty"`
	Month      string `json:"month,omitempty"`
	DayOfWeek  string `json:"day_of_week,omitempty"`
}

// IsRaw reports whether the record carries a raw expression.
func (r Record) IsRaw() bool { return strings.TrimSpace(r.Schedule) != "" }

// Description returns the record as a Raw or Parts description.
func (r Record) Description() Description {
	if r.IsRaw() {
		return Raw(r.Schedule)
	}
	return r.Parts()
}

// Parts returns the structured fields of the record.
func (r Record) Parts() Parts {
	return Parts{
		Second:     r.Second,
		Minute:     r.Minute,
		Hour:       r.Hour,
		DayOfMonth: r.DayOfMonth,
		Month:      r.Month,
		DayOfWeek:  r.DayOfWeek,
	}
}

// Expression is shorthand for Normalize(r.Description()).
func (r Record) Expression() Expression { return Normalize(r.Description()) }

// UnmarshalJSON accepts both snake_case and camelCase field names.
func (r *Record) UnmarshalJSON(b []byte) error {
	type plain Record
	var aux struct {
		plain
		DayOfMonthCamel string `json:"dayOfMonth,omitempty"`
		DayOfWeekCamel  string `json:"dayOfWeek,omitempty"`
	}
	// Unknown keys are rejected like the rest of the config.
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if r.DayOfMonth == "" {
		r.DayOfMonth = aux.DayOfMonthCamel
	}
	if r.DayOfWeek == "" {
		r.DayOfWeek = aux.DayOfWeekCamel
	}
	return nil
}
