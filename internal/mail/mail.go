// ABOUTME: Outbound mail dispatch through the Resend REST API
// ABOUTME: Defines the Sender interface plus the allowed-from sender policy

package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// resendEndpoint is the Resend transactional email API.
const resendEndpoint = "https://api.resend.com/emails"

// requestTimeout bounds each outbound API call so a stuck provider cannot
// hang a send indefinitely.
const requestTimeout = 30 * time.Second

// DefaultFrom is used when neither config nor request name a sender.
const DefaultFrom = "no-reply@example.com"

var (
	// ErrNoAPIKey means the mail provider key is not configured.
	ErrNoAPIKey = errors.New("mail provider API key not configured")
	// ErrSenderNotAllowed means the requested From address is outside the allow-list.
	ErrSenderNotAllowed = errors.New("sender not allowed")
)

// Attachment is a file attached to an outbound message. Content is base64.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Message is one outbound email.
type Message struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	HTML        string       `json:"html"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Sender dispatches a single message and returns the provider's response body.
type Sender interface {
	Send(ctx context.Context, msg *Message) (json.RawMessage, error)
}

// ResendClient implements Sender against the Resend REST API.
type ResendClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewResendClient creates a Resend client.
// An empty API key is reported on Send, not here, so the service can run
// without mail configured until a notification action is actually used.
func NewResendClient(apiKey string) *ResendClient {
	return &ResendClient{
		apiKey:   apiKey,
		endpoint: resendEndpoint,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

// Send posts a message to the Resend API and returns its JSON response.
func (c *ResendClient) Send(ctx context.Context, msg *Message) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling mail provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading mail provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("mail provider error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.RawMessage(body), nil
}

// ResolveFrom applies the allowed-sender policy. With no requested sender the
// first allowed address (or DefaultFrom) is used; with an empty allow-list any
// requested sender passes; otherwise the requested sender must be listed.
func ResolveFrom(requested string, allowed []string) (string, error) {
	requested = strings.TrimSpace(requested)

	if requested == "" {
		if len(allowed) > 0 {
			return allowed[0], nil
		}
		return DefaultFrom, nil
	}

	if len(allowed) == 0 {
		return requested, nil
	}

	for _, a := range allowed {
		if a == requested {
			return requested, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrSenderNotAllowed, requested)
}
