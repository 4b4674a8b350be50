// ABOUTME: HTTP surface for the entry pass protocol: one POST action endpoint
// ABOUTME: Validation-first dispatch with CORS, size caps, bot filter, rate limiting

package pass

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matsuri-dev/entrypass/internal/config"
	"github.com/matsuri-dev/entrypass/internal/guard"
	"github.com/matsuri-dev/entrypass/internal/mail"
	"github.com/matsuri-dev/entrypass/internal/store"
	"github.com/matsuri-dev/entrypass/internal/token"
	"github.com/matsuri-dev/entrypass/internal/validate"
)

// maxRequestSize caps the request body at 10KB.
const maxRequestSize = 10 * 1024

// bulkSendWorkers bounds concurrent outbound mail calls during bulk_send.
const bulkSendWorkers = 5

// Request is the JSON body of the single POST endpoint. Fields beyond action
// are read per-action; unused ones are ignored.
type Request struct {
	Action  string `json:"action"`
	RowHash string `json:"row_hash,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	Token   string `json:"token,omitempty"`
	PIN     string `json:"pin,omitempty"`

	// Notification fields
	To        string `json:"to,omitempty"`
	Name      string `json:"name,omitempty"`
	Subject   string `json:"subject,omitempty"`
	HTML      string `json:"html,omitempty"`
	Text      string `json:"text,omitempty"`
	From      string `json:"from,omitempty"`
	PDFBase64 string `json:"pdfBase64,omitempty"`
	PDFName   string `json:"pdfName,omitempty"`
	PDFURL    string `json:"pdfUrl,omitempty"`
}

// ParticipantView is the participant payload returned by resolve.
type ParticipantView struct {
	RowNumber int               `json:"row_number"`
	Headers   []string          `json:"headers"`
	Data      map[string]string `json:"data"`
}

// CheckInView is the check-in payload returned by resolve.
type CheckInView struct {
	RowHash     string    `json:"row_hash"`
	CheckedInAt time.Time `json:"checked_in_at"`
	CheckedInBy string    `json:"checked_in_by"`
}

// Handler implements the entry pass protocol over a single POST endpoint.
type Handler struct {
	codec    *token.Codec // nil when the signing secret is missing
	store    store.Store
	mailer   mail.Sender
	identity IdentityResolver
	requests guard.RequestChecker
	pins     guard.PinChecker
	logger   *slog.Logger

	adminPIN       string
	adminSecret    string
	adminEmails    []string
	publicURL      string
	corsOrigins    []string
	allowedFrom    []string
	defaultSubject string
	allowRecheck   bool
	production     bool

	now func() time.Time
}

// New creates the protocol handler. codec may be nil when the signing secret
// is not configured; every action that needs it then fails with a config error.
func New(cfg *config.Config, codec *token.Codec, st store.Store, mailer mail.Sender, identity IdentityResolver) *Handler {
	subject := cfg.Mail.DefaultSubject
	if subject == "" {
		subject = "Your Entry Pass"
	}
	return &Handler{
		codec:          codec,
		store:          st,
		mailer:         mailer,
		identity:       identity,
		requests:       guard.NewRequestLimiter(0, 0),
		pins:           guard.NewPinLimiter(0, 0, 0),
		logger:         slog.Default().With("component", "pass"),
		adminPIN:       cfg.Auth.AdminPIN,
		adminSecret:    cfg.Auth.AdminSecret,
		adminEmails:    cfg.Auth.AdminEmails,
		publicURL:      cfg.App.PublicURL,
		corsOrigins:    cfg.CORS.AllowOrigins,
		allowedFrom:    cfg.Mail.AllowedFrom,
		defaultSubject: subject,
		allowRecheck:   cfg.AllowRecheck(),
		production:     cfg.IsProduction(),
		now:            time.Now,
	}
}

// ServeHTTP handles POST (actions) and OPTIONS (CORS preflight).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	requestID := uuid.NewString()

	origin := r.Header.Get("Origin")
	for k, v := range h.corsHeaders(origin) {
		w.Header().Set(k, v)
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.ContentLength > maxRequestSize {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request too large")
		return
	}

	ip := clientIP(r)

	// Cheapest checks first: self-identified crawlers get nothing
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	if strings.Contains(ua, "bot") || strings.Contains(ua, "crawler") || strings.Contains(ua, "spider") {
		h.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	var req Request
	body := io.LimitReader(r.Body, maxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validate.Action(req.Action); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid action")
		return
	}

	if !h.requests.Allow(ip, req.Action) {
		h.logger.Warn("request rate limit exceeded", "request_id", requestID, "ip", truncateIP(ip, 8), "action", req.Action)
		h.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	status := h.dispatch(w, r, &req, ip)

	h.logger.Info("handled action",
		"request_id", requestID,
		"action", req.Action,
		"ip", truncateIP(ip, 8),
		"status", status,
		"duration", h.now().Sub(start))
}

// dispatch routes a validated action and returns the HTTP status written.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, req *Request, ip string) int {
	var err error
	switch req.Action {
	case validate.ActionGenerateLink:
		err = h.generateLink(w, r, req)
	case validate.ActionResolve:
		err = h.resolve(w, r, req)
	case validate.ActionCheckIn:
		return h.checkIn(w, r, req, ip)
	case validate.ActionSendEmail:
		err = h.sendEmail(w, r, req)
	case validate.ActionBulkSend:
		err = h.bulkSend(w, r, req)
	}
	if err != nil {
		status := statusFor(err)
		h.logger.Error("action failed", "action", req.Action, "status", status, "error", err)
		h.writeError(w, status, clientMessage(err, h.production))
		return status
	}
	return http.StatusOK
}

// baseURL resolves the link base: the request's baseUrl, if present and
// well-formed, else the configured public app URL.
func (h *Handler) baseURL(req *Request) (string, error) {
	base := strings.TrimSpace(req.BaseURL)
	if base == "" {
		base = h.publicURL
	}
	if base == "" {
		return "", fmt.Errorf("%w: public app URL not configured and no baseUrl given", ErrConfig)
	}
	if err := validate.URL(base); err != nil {
		return "", err
	}
	return strings.TrimSuffix(base, "/"), nil
}

// issueLink signs a token for a row hash and builds the participant-facing URL.
func (h *Handler) issueLink(req *Request, rowHash string) (tok, link string, err error) {
	if h.codec == nil {
		return "", "", fmt.Errorf("%w: signing secret not configured", ErrConfig)
	}
	base, err := h.baseURL(req)
	if err != nil {
		return "", "", err
	}
	tok, err = h.codec.Issue(rowHash)
	if err != nil {
		return "", "", err
	}
	return tok, base + "/pass/" + tok, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

// writeError writes the standard {error, timestamp} failure body.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{
		"error":     message,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// corsHeaders picks the allowed origin: a configured allow-list match first,
// then the public app origin, then wildcard.
func (h *Handler) corsHeaders(origin string) map[string]string {
	headers := map[string]string{
		"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type, x-admin-secret",
		"Access-Control-Allow-Methods": "POST, OPTIONS",
	}

	if origin != "" {
		for _, allowed := range h.corsOrigins {
			if allowed == origin {
				headers["Access-Control-Allow-Origin"] = origin
				return headers
			}
		}
	}
	if h.publicURL != "" {
		if parsed, err := url.Parse(h.publicURL); err == nil && parsed.Scheme != "" && parsed.Host != "" {
			headers["Access-Control-Allow-Origin"] = parsed.Scheme + "://" + parsed.Host
			return headers
		}
	}
	headers["Access-Control-Allow-Origin"] = "*"
	return headers
}

// clientIP extracts the requester IP: first X-Forwarded-For hop, then
// X-Real-IP, then the transport address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// truncateIP shortens an IP for logs and attribution.
func truncateIP(ip string, n int) string {
	if len(ip) <= n {
		return ip
	}
	return ip[:n]
}
