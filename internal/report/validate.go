package report

import (
	"fmt"
	"strings"
)

// Well-known field names used outside the template.
const (
	FieldProjectTitle = "project_title"
	FieldReportDate   = "report_date"
	FieldStartDate    = "start_date"
	FieldResearcher   = "researcher_name"
	FieldManufSteps   = "manuf_order_steps"
)

// SmartKeys maps the SMART goal letters onto their field names.
var SmartKeys = []struct{ Letter, Key string }{
	{"S", "smart_s"},
	{"M", "smart_m"},
	{"A", "smart_a"},
	{"R", "smart_r"},
	{"T", "smart_t"},
}

// Issue reasons.
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
)

// FieldIssue describes one rejected form input.
type FieldIssue struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ValidationError is returned when the submitted form cannot be rendered.
// The form stays open; nothing is written.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	var missing, invalid []string
	for _, is := range e.Issues {
		switch is.Reason {
		case ReasonMissing:
			missing = append(missing, is.Label)
		default:
			msg := is.Label
			if is.Detail != "" {
				msg += " (" + is.Detail + ")"
			}
			invalid = append(invalid, msg)
		}
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// MissingKeys returns the names of the required fields left empty.
func (e *ValidationError) MissingKeys() []string {
	var out []string
	for _, is := range e.Issues {
		if is.Reason == ReasonMissing {
			out = append(out, is.Key)
		}
	}
	return out
}

// Keys returns every field name with an issue.
func (e *ValidationError) Keys() []string {
	out := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		out = append(out, is.Key)
	}
	return out
}

// Has reports whether key has an issue.
func (e *ValidationError) Has(key string) bool {
	for _, is := range e.Issues {
		if is.Key == key {
			return true
		}
	}
	return false
}

// Validate checks the project against the declared fields. Only required
// fields and row shapes are checked; dates are free text. It returns a
// *ValidationError listing every problem, or nil.
func Validate(p *Project, specs []FieldSpec) error {
	var issues []FieldIssue
	for _, spec := range specs {
		if spec.Required && p.Fields.Get(spec.Key) == "" {
			issues = append(issues, FieldIssue{Key: spec.Key, Label: spec.Label, Reason: ReasonMissing})
		}
	}

	for i, t := range p.Trials {
		if strings.TrimSpace(t.Number) == "" {
			issues = append(issues, FieldIssue{
				Key:    fmt.Sprintf("trials[%d].number", i),
				Label:  fmt.Sprintf("Trial row %d", i+1),
				Reason: ReasonMissing,
				Detail: "Trial# is required",
			})
		}
	}
	for i, r := range p.Results {
		switch r.Kind {
		case ResultText, ResultTable, ResultImage:
		default:
			issues = append(issues, FieldIssue{
				Key:    fmt.Sprintf("results[%d].kind", i),
				Label:  fmt.Sprintf("Result %d", i+1),
				Reason: ReasonInvalid,
				Detail: fmt.Sprintf("unknown kind %q", r.Kind),
			})
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
