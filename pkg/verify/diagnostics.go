package verify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"forge/pkg/logx"
)

// Severity classifies a diagnostic. Only SeverityError blocks acceptance.
type Severity int8

const (
	// SeverityUnknown marks lines with a position but no recognizable
	// severity marker. Kept distinct rather than coerced into Warning.
	SeverityUnknown Severity = iota
	SeverityHint
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic is one finding parsed from tool output.
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity Severity
	Message  string
	Code     string
}

// diagLine matches "file:line:col: message" and "file:line: message".
// The file part must not contain spaces so prose lines are dropped.
var diagLine = regexp.MustCompile(`^([^\s:][^:\s]*):(\d+)(?::(\d+))?:\s*(.+)$`)

// markerCode extracts a trailing bracketed code like "[SA4006]" or "(ST1003)".
var markerCode = regexp.MustCompile(`[\[(]([A-Za-z]+\d+)[\])]\s*$`)

// ParseOutput turns raw combined tool output into sorted diagnostics.
// Unparsable lines are dropped with a debug log, never fatal.
func ParseOutput(output string, logger *logx.Logger) []Diagnostic {
	var diags []Diagnostic
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		d, ok := parseLine(line)
		if !ok {
			if logger != nil {
				logger.Debug("dropped unparsable line: %s", line)
			}
			continue
		}
		diags = append(diags, d)
	}
	SortDiagnostics(diags)
	return diags
}

func parseLine(line string) (Diagnostic, bool) {
	m := diagLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Diagnostic{}, false
	}
	lineNo, err := strconv.Atoi(m[2])
	if err != nil {
		return Diagnostic{}, false
	}
	col := 0
	if m[3] != "" {
		col, _ = strconv.Atoi(m[3])
	}
	msg := strings.TrimSpace(m[4])

	d := Diagnostic{
		File:    m[1],
		Line:    lineNo,
		Column:  col,
		Message: msg,
	}
	d.Severity, d.Message = classify(msg)
	if cm := markerCode.FindStringSubmatch(d.Message); cm != nil {
		d.Code = cm[1]
		d.Message = strings.TrimSpace(d.Message[:len(d.Message)-len(cm[0])])
	}
	return d, true
}

// classify maps a message's leading marker to a severity and strips it.
func classify(msg string) (Severity, string) {
	lower := strings.ToLower(msg)
	for _, m := range []struct {
		prefix   string
		severity Severity
	}{
		{"error:", SeverityError},
		{"fatal:", SeverityError},
		{"warning:", SeverityWarning},
		{"warn:", SeverityWarning},
		{"hint:", SeverityHint},
		{"note:", SeverityHint},
		{"info:", SeverityHint},
	} {
		if strings.HasPrefix(lower, m.prefix) {
			return m.severity, strings.TrimSpace(msg[len(m.prefix):])
		}
	}
	// Go compiler errors carry no marker, just the message. Treat bare
	// compiler output as an error; anything else stays unknown.
	if strings.HasPrefix(lower, "undefined") || strings.HasPrefix(lower, "cannot") ||
		strings.HasPrefix(lower, "syntax error") || strings.HasPrefix(lower, "missing") ||
		strings.HasPrefix(lower, "undeclared") || strings.Contains(lower, "not used") {
		return SeverityError, msg
	}
	return SeverityUnknown, msg
}

// SortDiagnostics orders by file, then line, then column.
func SortDiagnostics(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].File != diags[j].File {
			return diags[i].File < diags[j].File
		}
		if diags[i].Line != diags[j].Line {
			return diags[i].Line < diags[j].Line
		}
		return diags[i].Column < diags[j].Column
	})
}

// CountBySeverity returns how many diagnostics carry the given severity.
func CountBySeverity(diags []Diagnostic, s Severity) int {
	n := 0
	for i := range diags {
		if diags[i].Severity == s {
			n++
		}
	}
	return n
}

// HasErrors reports whether any diagnostic blocks acceptance.
func HasErrors(diags []Diagnostic) bool {
	return CountBySeverity(diags, SeverityError) > 0
}

// HintOnly reports whether the set is non-empty and contains only hints.
func HintOnly(diags []Diagnostic) bool {
	if len(diags) == 0 {
		return false
	}
	for i := range diags {
		if diags[i].Severity != SeverityHint {
			return false
		}
	}
	return true
}
