// Package guard detects sensitive data in text and redacts, blocks or
// flags it.
//
// Results describe filter categories and counts only. Matched text is never
// returned, stored or logged.
package guard

import (
	"github.com/HendryAvila/ctxengine/internal/ctxerr"
)

// Mode selects what Filter does with detected data.
type Mode string

// Modes.
const (
	// ModeRedact replaces every match with the replacement marker.
	ModeRedact Mode = "redact"
	// ModeBlock empties the content when anything matched.
	ModeBlock Mode = "block"
	// ModeWarn leaves the content unchanged and only reports counts.
	ModeWarn Mode = "warn"
)

// DefaultReplacement is the redaction marker.
const DefaultReplacement = "[REDACTED]"

// ParseMode validates a mode name. The empty string means ModeRedact.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeRedact, nil
	case ModeRedact, ModeBlock, ModeWarn:
		return m, nil
	default:
		return "", ctxerr.Validation("guard.ParseMode", "unknown guard mode %q (want redact, block or warn)", s)
	}
}

// Options configure Filter.
type Options struct {
	// Filters selects filters by name. Empty means all filters.
	Filters []string
	Mode    Mode
	// Replacement overrides DefaultReplacement in redact mode.
	Replacement string
	// Strict turns unknown filter names into a validation error instead of
	// ignoring them.
	Strict bool
}

// Finding is the number of matches of one filter.
type Finding struct {
	Filter string `json:"filter"`
	Count  int    `json:"count"`
}

// Result is the outcome of Filter.
type Result struct {
	Content  string    `json:"content"`
	Findings []Finding `json:"findings"`
	Mode     Mode      `json:"mode"`
	// Filtered is true when Content differs from the input because of a
	// match (redact or block mode).
	Filtered bool `json:"filtered"`
	// Blocked is true when block mode emptied the content.
	Blocked bool `json:"blocked"`
	// Ignored lists requested filter names that do not exist.
	Ignored []string `json:"ignored,omitempty"`
}

// Total returns the number of matches across all findings.
func (r *Result) Total() int {
	return Total(r.Findings)
}

// Total sums finding counts.
func Total(findings []Finding) int {
	n := 0
	for _, f := range findings {
		n += f.Count
	}
	return n
}

// Filter runs the requested filters over content according to opts.
func Filter(content string, opts Options) (*Result, error) {
	mode, active, ignored, err := prepare("guard.Filter", opts)
	if err != nil {
		return nil, err
	}
	return run(content, mode, replacementOf(opts), active, ignored), nil
}

// FilterBatch applies Filter to each item independently, preserving order
// and count.
func FilterBatch(contents []string, opts Options) ([]*Result, error) {
	mode, active, ignored, err := prepare("guard.FilterBatch", opts)
	if err != nil {
		return nil, err
	}
	repl := replacementOf(opts)
	out := make([]*Result, len(contents))
	for i, c := range contents {
		out[i] = run(c, mode, repl, active, ignored)
	}
	return out, nil
}

// Scan reports findings without modifying anything. Unknown filter names
// contribute nothing.
func Scan(content string, names []string) []Finding {
	active, _ := resolve(names)
	_, findings := redact(content, DefaultReplacement, active)
	return findings
}

// HasSensitiveData reports whether any of the named filters matches.
func HasSensitiveData(content string, names []string) bool {
	return len(Scan(content, names)) > 0
}

func prepare(op string, opts Options) (Mode, []*filter, []string, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return "", nil, nil, ctxerr.Validation(op, "unknown guard mode %q (want redact, block or warn)", opts.Mode)
	}
	active, ignored := resolve(opts.Filters)
	if opts.Strict && len(ignored) > 0 {
		return "", nil, nil, ctxerr.Validation(op, "unknown filter %q", ignored[0])
	}
	return mode, active, ignored, nil
}

func replacementOf(opts Options) string {
	if opts.Replacement != "" {
		return opts.Replacement
	}
	return DefaultReplacement
}

// resolve maps names to filters in evaluation order, whatever the order of
// names. No names means every filter.
func resolve(names []string) (active []*filter, ignored []string) {
	if len(names) == 0 {
		for i := range filters {
			active = append(active, &filters[i])
		}
		return active, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if IsFilter(n) {
			want[n] = true
		} else {
			ignored = append(ignored, n)
		}
	}
	for i := range filters {
		if want[filters[i].name] {
			active = append(active, &filters[i])
		}
	}
	return active, ignored
}

func run(content string, mode Mode, repl string, active []*filter, ignored []string) *Result {
	redacted, findings := redact(content, repl, active)
	res := &Result{Content: content, Findings: findings, Mode: mode, Ignored: ignored}
	if len(findings) == 0 {
		return res
	}
	switch mode {
	case ModeRedact:
		res.Content = redacted
		res.Filtered = true
	case ModeBlock:
		res.Content = ""
		res.Filtered = true
		res.Blocked = true
	}
	return res
}

func redact(content, repl string, active []*filter) (string, []Finding) {
	findings := []Finding{}
	for _, f := range active {
		var n int
		content, n = f.apply(content, repl)
		if n > 0 {
			findings = append(findings, Finding{Filter: f.name, Count: n})
		}
	}
	return content, findings
}
