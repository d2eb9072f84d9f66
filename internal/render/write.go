package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rdreport/internal/report"
)

// ErrorKind classifies render failures.
type ErrorKind string

const (
	// KindIO covers unwritable paths, permissions, full disks and unreadable inputs.
	KindIO ErrorKind = "io"
	// KindTemplate covers layout and composition failures.
	KindTemplate ErrorKind = "template"
)

// Error is returned when a document cannot be produced. Nothing is left
// at the target path when it is returned.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("render ")
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsError reports whether err is a render error of the given kind.
func IsError(err error, kind ErrorKind) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Kind == kind
}

// Renderer writes a composed document in one format.
type Renderer interface {
	Render(ctx context.Context, doc *Document, w io.Writer) error
	GetMimeType() string
	GetFileExtension() string
}

// WriteFile renders doc into a temporary file next to path and renames
// it into place once complete. The parent directory must exist.
func WriteFile(ctx context.Context, r Renderer, doc *Document, path string) (int64, error) {
	if strings.TrimSpace(path) == "" {
		return 0, &Error{Kind: KindIO, Op: "write", Err: fmt.Errorf("empty output path")}
	}
	dir := filepath.Dir(path)
	if st, err := os.Stat(dir); err != nil {
		return 0, &Error{Kind: KindIO, Op: "write", Path: path, Err: err}
	} else if !st.IsDir() {
		return 0, &Error{Kind: KindIO, Op: "write", Path: path, Err: fmt.Errorf("%s is not a directory", dir)}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, &Error{Kind: KindIO, Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	cw := &countingWriter{w: tmp}
	if err := r.Render(ctx, doc, cw); err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return 0, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		if cw.err != nil {
			return 0, &Error{Kind: KindIO, Op: "write", Path: path, Err: cw.err}
		}
		return 0, &Error{Kind: KindTemplate, Op: "render " + r.GetFileExtension(), Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return 0, &Error{Kind: KindIO, Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &Error{Kind: KindIO, Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, &Error{Kind: KindIO, Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, &Error{Kind: KindIO, Op: "rename", Path: path, Err: err}
	}
	committed = true
	return cw.n, nil
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

// FileName builds the default output name for a title and report date:
// path separators in the title become underscores.
func FileName(title string, date time.Time, f report.Format) string {
	base := strings.TrimSpace(title)
	if base == "" {
		base = "report"
	}
	base = strings.NewReplacer("/", "_", `\`, "_", string(os.PathSeparator), "_").Replace(base)
	return fmt.Sprintf("%s_%s.%s", base, date.Format(report.DateLayout), f)
}

// For returns the renderer of a concrete format.
func For(f report.Format) (Renderer, error) {
	switch f {
	case report.FormatDOCX:
		return NewDOCX(), nil
	case report.FormatPDF:
		return NewPDF(), nil
	case report.FormatXLSX:
		return NewXLSX(), nil
	case report.FormatHTML:
		return NewHTML(), nil
	}
	return nil, fmt.Errorf("no renderer for format %q", f)
}

// FormatOf infers the format from a file extension.
func FormatOf(path string) (report.Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch f := report.Format(ext); f {
	case report.FormatDOCX, report.FormatPDF, report.FormatXLSX, report.FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("cannot infer report format from %q", path)
}
