package schedule

import "strings"

// Expression is a canonical cron string: fields separated by exactly one
// space, no leading/trailing whitespace.
type Expression string

func (e Expression) String() string { return string(e) }

// Fields splits the expression into its cron fields.
func (e Expression) Fields() []string { return strings.Fields(string(e)) }

// HasSeconds reports whether the expression carries a leading seconds field.
func (e Expression) HasSeconds() bool { return len(e.Fields()) == 6 }

// IsZero reports whether the expression is empty.
func (e Expression) IsZero() bool { return e == "" }

// Description is a schedule in one of the supported shapes (Raw or Parts).
type Description interface {
	isDescription()
}

// Raw is an already-formed cron expression.
type Raw string

// Parts is a schedule given field by field. Second is optional.
type Parts struct {
	Second     string
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

func (Raw) isDescription()   {}
func (Parts) isDescription() {}

// Normalize converts a description into its canonical expression.
//
// Field values are not validated; the timer primitive accepts or rejects the
// result when a timer is created. A nil description normalizes to "", and so
// do Parts missing a required field, since dropping the field would shift the
// remaining ones into other positions.
func Normalize(d Description) Expression {
	switch v := d.(type) {
	case Raw:
		return join(strings.Fields(string(v)))
	case *Parts:
		if v == nil {
			return ""
		}
		return normalizeParts(*v)
	case Parts:
		return normalizeParts(v)
	default:
		return ""
	}
}

// Missing returns the names of the required fields that are blank.
func (p Parts) Missing() []string {
	var out []string
	for _, f := range []struct{ name, v string }{
		{"minute", p.Minute},
		{"hour", p.Hour},
		{"day_of_month", p.DayOfMonth},
		{"month", p.Month},
		{"day_of_week", p.DayOfWeek},
	} {
		if strings.TrimSpace(f.v) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

func normalizeParts(p Parts) Expression {
	if len(p.Missing()) > 0 {
		return ""
	}
	fields := make([]string, 0, 6)
	if s := strings.TrimSpace(p.Second); s != "" {
		fields = append(fields, s)
	}
	for _, f := range []string{p.Minute, p.Hour, p.DayOfMonth, p.Month, p.DayOfWeek} {
		// A field with inner whitespace still collapses to single spaces.
		fields = append(fields, strings.Fields(f)...)
	}
	return join(fields)
}

func join(fields []string) Expression {
	return Expression(strings.Join(fields, " "))
}
