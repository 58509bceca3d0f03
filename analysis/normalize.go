package analysis

import "strings"

// Normalizers coerce the loosely-specified enum-ish strings the generation
// service returns onto the closed vocabulary the data model requires.
// They never fail: an unrecognized value falls back to a designated default
// so one noisy field cannot abort an otherwise-valid stage output. All
// normalizers are idempotent.

// noopChangeValues are model answers meaning "no change"; they collapse to
// ChangeReplace so the entry parses without altering anything meaningful.
var noopChangeValues = map[string]bool{
	"none": true, "skip": true, "no_change": true,
	"n/a": true, "na": true, "null": true, "": true,
}

// NormalizeChangeType maps a raw change_type string onto the closed
// vocabulary. Removal-flavored strings ("remove_invalid_refs",
// "delete entry") map to remove; update variants map to replace;
// anything unrecognized defaults to replace.
func NormalizeChangeType(raw string) ChangeType {
	v := strings.ToLower(strings.TrimSpace(raw))

	if noopChangeValues[v] {
		return ChangeReplace
	}
	if strings.Contains(v, "remove") || strings.Contains(v, "delete") || strings.Contains(v, "clear") {
		return ChangeRemove
	}
	if strings.Contains(v, "append") {
		return ChangeAppend
	}
	if strings.Contains(v, "add") || strings.Contains(v, "insert") {
		return ChangeAdd
	}
	switch v {
	case "replace", "update", "set", "change", "modify":
		return ChangeReplace
	}
	return ChangeReplace
}

// NormalizeIssueID extracts the canonical ISS_NNN identifier from decorated
// variants like "ISS_001_corrected". Strings containing no identifier are
// returned trimmed, for the validator to reject with a precise reason.
func NormalizeIssueID(raw string) string {
	v := strings.TrimSpace(raw)
	if m := issueIDPattern.FindString(v); m != "" {
		return m
	}
	return v
}

// NormalizeConflictType maps a raw conflict type onto the closed vocabulary,
// defaulting to interpersonal. Models occasionally answer with synonyms
// ("relational", "inner", "philosophical").
func NormalizeConflictType(raw string) ConflictType {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(v, "internal"), strings.Contains(v, "inner"), strings.Contains(v, "psychological"):
		return ConflictInternal
	case strings.Contains(v, "ideolog"), strings.Contains(v, "philosoph"), strings.Contains(v, "belief"):
		return ConflictIdeological
	case strings.Contains(v, "interpersonal"), strings.Contains(v, "relational"), strings.Contains(v, "external"):
		return ConflictInterpersonal
	}
	return ConflictInterpersonal
}

// NormalizeSeverity maps a raw severity onto high/medium/low, defaulting
// to medium.
func NormalizeSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "critical", "severe":
		return SeverityHigh
	case "low", "minor", "trivial":
		return SeverityLow
	case "medium", "moderate":
		return SeverityMedium
	}
	return SeverityMedium
}

// NormalizeStringList coerces a decoded JSON value that should be a list of
// strings. Models sometimes return a bare string where an array is expected.
func NormalizeStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
