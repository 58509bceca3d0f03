package llm

import (
	"fmt"
	"strings"
)

// ExtractJSON recovers the first syntactically complete JSON object from an
// arbitrary response blob. Models wrap JSON in markdown fences, prepend
// prose, append commentary, and sometimes concatenate a second object; the
// scanner returns exactly the first balanced {...} region, tracking brace
// depth and skipping braces inside string literals. JavaScript-style line
// comments and trailing commas are stripped from the extracted region
// because models commonly emit them. Pure text scanning, deterministic.
//
// Returns an error wrapping ErrNoJSON when no balanced region exists.
func ExtractJSON(content string) (string, error) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", fmt.Errorf("extract: %w", ErrNoJSON)
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		ch := content[i]

		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return cleanJSON(content[start : i+1]), nil
			}
		}
	}

	return "", fmt.Errorf("extract: unbalanced braces: %w", ErrNoJSON)
}

// cleanJSON removes line comments and trailing commas from an extracted
// region so it survives strict decoding.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	return stripTrailingCommas(strings.Join(cleaned, "\n"))
}

// stripTrailingCommas removes commas whose next non-whitespace character
// closes an object or array. String literals are skipped, so a value like
// "she paused, }" comes through intact.
func stripTrailingCommas(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]

		if inString {
			b.WriteByte(ch)
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(raw) && (raw[j] == ' ' || raw[j] == '\t' || raw[j] == '\n' || raw[j] == '\r') {
				j++
			}
			if j < len(raw) && (raw[j] == '}' || raw[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// stripLineComment removes a // comment from a line, respecting string
// values so URLs like "http://example.com" are untouched.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
