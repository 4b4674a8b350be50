// ABOUTME: Best-effort email/name detection over imported sheet columns
// ABOUTME: Heuristic header matching only; never consulted on token or PIN paths

package detect

import (
	"regexp"
	"strings"
)

// emailRe matches an email-looking value anywhere in a cell.
var emailRe = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)

// Header name fragments that suggest a column holds email addresses.
var emailHeaderPatterns = []string{"email", "e-mail", "mail", "メール", "メールアドレス"}

// Header name fragments that suggest a column holds the participant's name.
// Column order decides ties: the first matching header in the import wins.
var nameHeaderPatterns = []string{"代表者氏名", "代表者", "氏名", "お名前", "名前", "name", "申込者"}

// Detector finds a field value from a row given its headers, or reports that
// none was found. The two built-in strategies can be swapped out per locale.
type Detector func(headers []string, data map[string]string) (string, bool)

// Email returns the first email-looking value from a column whose header
// suggests email, falling back to any email-looking value in the row.
func Email(headers []string, data map[string]string) (string, bool) {
	for _, header := range headers {
		lower := strings.ToLower(header)
		for _, pattern := range emailHeaderPatterns {
			if strings.Contains(lower, pattern) {
				if val, ok := data[header]; ok && emailRe.MatchString(val) {
					return strings.TrimSpace(emailRe.FindString(val)), true
				}
			}
		}
	}
	for _, val := range data {
		if emailRe.MatchString(val) {
			return strings.TrimSpace(emailRe.FindString(val)), true
		}
	}
	return "", false
}

// Name returns the value of the first column whose header looks like a name
// column. There is no value-shape fallback; names have none.
func Name(headers []string, data map[string]string) (string, bool) {
	for _, header := range headers {
		lower := strings.ToLower(header)
		for _, pattern := range nameHeaderPatterns {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				if val := strings.TrimSpace(data[header]); val != "" {
					return val, true
				}
			}
		}
	}
	return "", false
}
