// ABOUTME: Structural whitelist validation for every inbound request field
// ABOUTME: Runs before signature checks, limiters, and store access; no external state

package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Field size limits
const (
	TokenMaxLength = 2048 // signed tokens are never longer than this
	EmailMaxLength = 254  // RFC 5321 limit
	PinMinLength   = 4
	PinMaxLength   = 12
	RowHashMin     = 10
	RowHashMax     = 128
)

// Actions the endpoint accepts. Anything else is rejected before dispatch.
const (
	ActionGenerateLink = "generate_link"
	ActionResolve      = "resolve"
	ActionCheckIn      = "check_in"
	ActionSendEmail    = "send_email"
	ActionBulkSend     = "bulk_send"
)

var allowedActions = map[string]bool{
	ActionGenerateLink: true,
	ActionResolve:      true,
	ActionCheckIn:      true,
	ActionSendEmail:    true,
	ActionBulkSend:     true,
}

var (
	base64urlRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	digitsRe    = regexp.MustCompile(`^[0-9]+$`)
	alnumRe     = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	emailRe     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Error reports which field failed structural validation and why.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func fail(field, reason string) error {
	return &Error{Field: field, Reason: reason}
}

// Token checks the shape of a signed token: three dot-separated segments,
// each base64url-alphabet only. It does not verify the signature.
func Token(token string) error {
	if token == "" {
		return fail("token", "required")
	}
	if len(token) > TokenMaxLength {
		return fail("token", "too long")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fail("token", "malformed")
	}
	for _, part := range parts {
		if !base64urlRe.MatchString(part) {
			return fail("token", "malformed")
		}
	}
	return nil
}

// PIN checks that a PIN is 4-12 digits.
func PIN(pin string) error {
	if pin == "" {
		return fail("pin", "required")
	}
	if len(pin) < PinMinLength || len(pin) > PinMaxLength {
		return fail("pin", "wrong length")
	}
	if !digitsRe.MatchString(pin) {
		return fail("pin", "digits only")
	}
	return nil
}

// RowHash checks that a row identifier is 10-128 alphanumeric characters.
func RowHash(hash string) error {
	if hash == "" {
		return fail("row_hash", "required")
	}
	if len(hash) < RowHashMin || len(hash) > RowHashMax {
		return fail("row_hash", "wrong length")
	}
	if !alnumRe.MatchString(hash) {
		return fail("row_hash", "alphanumeric only")
	}
	return nil
}

// Email checks a local@domain.tld shape within the RFC length limit.
func Email(email string) error {
	if email == "" {
		return fail("email", "required")
	}
	if len(email) > EmailMaxLength {
		return fail("email", "too long")
	}
	if !emailRe.MatchString(email) {
		return fail("email", "malformed")
	}
	return nil
}

// URL checks that a string parses as an http or https URL.
func URL(raw string) error {
	if raw == "" {
		return fail("url", "required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fail("url", "malformed")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fail("url", "scheme must be http or https")
	}
	if parsed.Host == "" {
		return fail("url", "missing host")
	}
	return nil
}

// Action checks membership in the fixed allowed-action set.
func Action(action string) error {
	if action == "" {
		return fail("action", "required")
	}
	if !allowedActions[action] {
		return fail("action", "unknown")
	}
	return nil
}
