package report

import (
	"encoding/csv"
	"regexp"
	"strings"
)

var wideSpace = regexp.MustCompile(`\s{2,}`)

// SplitLines returns the trimmed, non-blank lines of text.
func SplitLines(text string) []string {
	var out []string
	for _, ln := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

// ParseTable turns text pasted from a spreadsheet or CSV file into rows.
// Tab, comma and semicolon delimiters are detected when every line uses
// the same number of them; otherwise tabs, then runs of two or more
// spaces split the columns.
func ParseTable(text string) [][]string {
	txt := strings.Trim(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if strings.TrimSpace(txt) == "" {
		return nil
	}

	if delim, ok := sniffDelimiter(txt); ok {
		r := csv.NewReader(strings.NewReader(txt))
		r.Comma = delim
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		if rows, err := r.ReadAll(); err == nil && hasMultiColumn(rows) {
			return trimRows(rows)
		}
	}

	lines := strings.Split(txt, "\n")
	rows := make([][]string, 0, len(lines))
	if strings.Contains(txt, "\t") {
		for _, ln := range lines {
			rows = append(rows, strings.Split(ln, "\t"))
		}
		return trimRows(rows)
	}
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		var parts []string
		for _, p := range wideSpace.Split(ln, -1) {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			parts = []string{ln}
		}
		rows = append(rows, parts)
	}
	return rows
}

// ColumnCount returns the width of the widest row.
func ColumnCount(rows [][]string) int {
	n := 0
	for _, r := range rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

func sniffDelimiter(txt string) (rune, bool) {
	var lines []string
	for _, ln := range strings.Split(txt, "\n") {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	for _, d := range []rune{'\t', ',', ';'} {
		want := countUnquoted(lines[0], d)
		if want == 0 {
			continue
		}
		consistent := true
		for _, ln := range lines[1:] {
			if countUnquoted(ln, d) != want {
				consistent = false
				break
			}
		}
		if consistent {
			return d, true
		}
	}
	return 0, false
}

func countUnquoted(line string, d rune) int {
	n, quoted := 0, false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

func hasMultiColumn(rows [][]string) bool {
	for _, r := range rows {
		if len(r) > 1 {
			return true
		}
	}
	return false
}

func trimRows(rows [][]string) [][]string {
	for _, r := range rows {
		for i := range r {
			r[i] = strings.TrimSpace(r[i])
		}
	}
	return rows
}
