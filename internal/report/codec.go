package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ProjectExt is the file extension of saved projects.
const ProjectExt = ".rdrproj"

// ListFieldKeys are written as JSON arrays in project files.
var ListFieldKeys = map[string]bool{
	"objectives":            true,
	"methods_raw_materials": true,
	"methods_instruments":   true,
	"methods_procedure":     true,
	"conclusion":            true,
	"references":            true,
	FieldManufSteps:         true,
}

// keys of report_model that are not plain form fields
const (
	keyTrials      = "trial_history"
	keyTrialLayout = "trial_layout"
	keyTrialStyle  = "trial_docx_style"
	keyResults     = "results"
	keyEmails      = "email_correspondence"
	keySmartGoals  = "smart_goals"
	keyLegacyManuf = "manuf_order_text"
)

type projectFile struct {
	ReportModel map[string]json.RawMessage `json:"report_model"`
	Branding    Branding                   `json:"branding"`
	Export      ExportOptions              `json:"export"`
	Include     map[string]bool            `json:"include"`
}

// legacy results stored a single image under image_path
type resultFile struct {
	ResultItem
	ImagePath string `json:"image_path,omitempty"`
}

// MarshalJSON writes the project in the .rdrproj layout.
func (p *Project) MarshalJSON() ([]byte, error) {
	model := make(map[string]any, len(p.Fields)+6)
	smartKeys := make(map[string]bool, len(SmartKeys))
	smart := make(map[string]string, len(SmartKeys))
	for _, sk := range SmartKeys {
		smartKeys[sk.Key] = true
		smart[sk.Letter] = p.Fields.Get(sk.Key)
	}
	for k, v := range p.Fields {
		switch {
		case smartKeys[k]:
		case ListFieldKeys[k]:
			lines := SplitLines(v)
			if lines == nil {
				lines = []string{}
			}
			model[k] = lines
		default:
			model[k] = v
		}
	}
	model[keySmartGoals] = smart
	model[keyTrials] = nonNil(p.Trials)
	model[keyTrialLayout] = p.TrialLayout
	model[keyTrialStyle] = p.TrialStyle
	model[keyResults] = nonNil(p.Results)
	model[keyEmails] = nonNil(p.Emails)

	return json.Marshal(struct {
		ReportModel map[string]any  `json:"report_model"`
		Branding    Branding        `json:"branding"`
		Export      ExportOptions   `json:"export"`
		Include     map[string]bool `json:"include"`
	}{model, p.Branding, p.Export, p.Include})
}

// UnmarshalJSON reads a .rdrproj document, including files written by
// older versions of the form.
func (p *Project) UnmarshalJSON(data []byte) error {
	var f projectFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	out := NewProject()
	for k, raw := range f.ReportModel {
		var err error
		switch k {
		case keyTrials:
			err = json.Unmarshal(raw, &out.Trials)
		case keyTrialLayout:
			err = json.Unmarshal(raw, &out.TrialLayout)
		case keyTrialStyle:
			err = json.Unmarshal(raw, &out.TrialStyle)
		case keyEmails:
			err = json.Unmarshal(raw, &out.Emails)
		case keyResults:
			out.Results, err = decodeResults(raw)
		case keySmartGoals:
			var smart map[string]string
			if err = json.Unmarshal(raw, &smart); err == nil {
				for _, sk := range SmartKeys {
					if v := smart[sk.Letter]; v != "" {
						out.Fields[sk.Key] = v
					}
				}
			}
		case keyLegacyManuf:
			var text string
			if err = json.Unmarshal(raw, &text); err == nil && out.Fields.Get(FieldManufSteps) == "" {
				out.Fields[FieldManufSteps] = strings.Join(SplitLines(text), "\n")
			}
		default:
			var v string
			v, err = decodeFieldValue(raw)
			if err == nil && (v != "" || out.Fields[k] == "") {
				out.Fields[k] = v
			}
		}
		if err != nil {
			return fmt.Errorf("report_model.%s: %w", k, err)
		}
	}

	out.Branding = f.Branding
	out.Export = f.Export
	for k, v := range f.Include {
		out.Include[k] = v
	}
	out.Normalize()
	*p = *out
	return nil
}

// ReadProject decodes a project file.
func ReadProject(r io.Reader) (*Project, error) {
	p := NewProject()
	if err := json.NewDecoder(r).Decode(p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	return p, nil
}

// WriteProject encodes a project file with two-space indentation.
func WriteProject(w io.Writer, p *Project) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	return nil
}

func decodeResults(raw json.RawMessage) ([]ResultItem, error) {
	var files []resultFile
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, err
	}
	out := make([]ResultItem, 0, len(files))
	for _, rf := range files {
		item := rf.ResultItem
		if len(item.Images) == 0 && rf.ImagePath != "" {
			item.Images = []string{rf.ImagePath}
		}
		out = append(out, item)
	}
	return out, nil
}

// decodeFieldValue accepts a string, a list of strings or null.
func decodeFieldValue(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "\n"), nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
