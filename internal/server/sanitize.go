package server

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"rdreport/internal/report"
)

var (
	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy

	// closing tags, <br> and comments mark text pasted from a rich editor
	pastedMarkup = regexp.MustCompile(`(?i)</[a-z][a-z0-9]*\s*>|<br\s*/?>|<!--`)
	blockBreak   = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|tr|h[1-6])\s*>`)
)

// sanitizeText returns a submitted value as plain text. Values typed by
// hand are kept verbatim, so "a<b and c>d" survives. Values carrying pasted
// markup are stripped to their text; block ends become line breaks and
// entities are decoded so "&amp;" reads "&".
func sanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	if !pastedMarkup.MatchString(raw) {
		return raw
	}
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	raw = blockBreak.ReplaceAllStringFunc(raw, func(tag string) string { return tag + "\n" })
	return strings.TrimRight(html.UnescapeString(textPolicy.Sanitize(raw)), "\n")
}

// sanitizeProject cleans every free-text value of a project received as JSON.
func sanitizeProject(p *report.Project) {
	for k, v := range p.Fields {
		p.Fields[k] = sanitizeText(v)
	}
	for i := range p.Trials {
		t := &p.Trials[i]
		t.Number, t.Issue, t.Reasons = sanitizeText(t.Number), sanitizeText(t.Issue), sanitizeText(t.Reasons)
	}
	for i := range p.Emails {
		e := &p.Emails[i]
		e.Date, e.Customer, e.Correspondence = sanitizeText(e.Date), sanitizeText(e.Customer), sanitizeText(e.Correspondence)
	}
	for i := range p.Results {
		r := &p.Results[i]
		r.Title, r.Content, r.Caption = sanitizeText(r.Title), sanitizeText(r.Content), sanitizeText(r.Caption)
		for _, row := range r.Table {
			for j := range row {
				row[j] = sanitizeText(row[j])
			}
		}
	}
}
