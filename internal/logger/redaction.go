package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor scrubs credentials that may be echoed from client payloads or
// request headers before a line reaches any log sink.
type Redactor struct {
	patterns []rule
}

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// NewRedactor creates a redactor with the default patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []rule{
			{regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9._~+/=-]+`), redacted},
			{regexp.MustCompile(`(?i)Basic\s+[a-zA-Z0-9+/=]{8,}`), redacted},
			{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), redacted},
			{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), redacted},
			// JSON string fields, raw or escaped inside another string:
			// "password":"x" and \"password\":\"x\" keep their quoting.
			{
				regexp.MustCompile(`(?i)((?:\\?")(?:password|passwd|secret|token|api_?key|access_?token)\\?"\s*:\s*\\?")[^"\\]*(\\?")`),
				"${1}" + redacted + "${2}",
			},
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, rule{re: re, replacement: redacted})
	return nil
}

// Redact returns s with every match replaced. Field patterns keep the key.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers never see a short write caused
// by redaction changing the line length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
