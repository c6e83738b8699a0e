package config

import (
	"regexp"
	"strings"
)

// Managed assignment keys in the env file. Everything else in the file is
// left untouched.
const (
	KeyAPIURL      = "API_URL"
	KeyDefaultUser = "DEFAULT_USER"
	KeyDefaultPass = "DEFAULT_PASS"
)

// managedKeys fixes the append order for keys the file does not contain yet.
var managedKeys = []string{KeyAPIURL, KeyDefaultUser, KeyDefaultPass}

// assignmentPatterns match a line that assigns a managed key: optional
// leading whitespace, the exact key, optional whitespace, "=". Keys are
// case-sensitive; a commented-out assignment does not match.
var assignmentPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(managedKeys))
	for _, key := range managedKeys {
		m[key] = regexp.MustCompile(`^[ \t]*` + regexp.QuoteMeta(key) + `[ \t]*=`)
	}
	return m
}()

// Values holds the three managed settings.
type Values struct {
	APIURL   string `json:"api_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// IsComplete reports whether all three values are set.
func (v Values) IsComplete() bool {
	return strings.TrimSpace(v.APIURL) != "" &&
		strings.TrimSpace(v.Username) != "" &&
		strings.TrimSpace(v.Password) != ""
}

func (v Values) forKey(key string) string {
	switch key {
	case KeyAPIURL:
		return v.APIURL
	case KeyDefaultUser:
		return v.Username
	case KeyDefaultPass:
		return v.Password
	}
	return ""
}

// MergeLines upserts the managed assignments into lines and returns the new
// file content. The first line assigning a managed key is replaced in place
// with the canonical form; every other line, later duplicates included, is
// copied through unchanged. Keys without an existing assignment are appended
// in a fixed order.
func MergeLines(lines []string, v Values) []string {
	replaced := make(map[string]bool, len(managedKeys))
	out := make([]string, 0, len(lines)+len(managedKeys))

	for _, line := range lines {
		rewritten := line
		for _, key := range managedKeys {
			if replaced[key] || !assignmentPatterns[key].MatchString(line) {
				continue
			}
			rewritten = formatAssignment(key, v.forKey(key))
			replaced[key] = true
			break
		}
		out = append(out, rewritten)
	}

	for _, key := range managedKeys {
		if !replaced[key] {
			out = append(out, formatAssignment(key, v.forKey(key)))
		}
	}
	return out
}

// ParseLines resolves the managed keys from file lines. The first assignment
// of a key wins, mirroring the replacement target MergeLines picks.
func ParseLines(lines []string) Values {
	var v Values
	seen := make(map[string]bool, len(managedKeys))

	for _, line := range lines {
		for _, key := range managedKeys {
			if seen[key] {
				continue
			}
			loc := assignmentPatterns[key].FindStringIndex(line)
			if loc == nil {
				continue
			}
			seen[key] = true
			value := unquoteValue(line[loc[1]:])
			switch key {
			case KeyAPIURL:
				v.APIURL = value
			case KeyDefaultUser:
				v.Username = value
			case KeyDefaultPass:
				v.Password = value
			}
			break
		}
	}
	return v
}

// formatAssignment renders the canonical form: KEY="value" with backslash
// and double quote escaped.
func formatAssignment(key, value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return key + `="` + escaped + `"`
}

func unquoteValue(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return unescape(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}

func unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == '"') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
