// ABOUTME: The five protocol actions: generate_link, resolve, check_in, send_email, bulk_send
// ABOUTME: check_in is the only state-mutating public action and is PIN-gated

package pass

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/matsuri-dev/entrypass/internal/detect"
	"github.com/matsuri-dev/entrypass/internal/mail"
	"github.com/matsuri-dev/entrypass/internal/store"
	"github.com/matsuri-dev/entrypass/internal/validate"
)

// attributionLen is how much of the requester IP is stored as check-in audit.
const attributionLen = 12

// generateLink issues a fresh entry pass link for one row hash. Admin only.
// Does not touch the store: link generation is orthogonal to payment state,
// and every call mints a distinct valid token.
func (h *Handler) generateLink(w http.ResponseWriter, r *http.Request, req *Request) error {
	if err := h.requireAdmin(r); err != nil {
		return err
	}
	if err := validate.RowHash(req.RowHash); err != nil {
		return err
	}

	tok, link, err := h.issueLink(req, req.RowHash)
	if err != nil {
		return err
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"url":   link,
		"token": tok,
	})
	return nil
}

// resolve turns a token into participant details plus check-in state.
// Public and read-only; the token itself is the authorization.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, req *Request) error {
	if err := validate.Token(req.Token); err != nil {
		return err
	}
	if h.codec == nil {
		return fmt.Errorf("%w: signing secret not configured", ErrConfig)
	}

	claims, err := h.codec.Verify(req.Token)
	if err != nil {
		return err
	}
	if err := validate.RowHash(claims.RowHash); err != nil {
		return err
	}

	participant, err := h.store.GetParticipant(r.Context(), claims.RowHash)
	if errors.Is(err, store.ErrNotFound) {
		// Tokens are only issued for rows in the paid set, so a missing row
		// means the import has changed underneath this pass.
		return fmt.Errorf("%w: entry pass no longer valid", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	checkin, err := h.store.GetCheckIn(r.Context(), claims.RowHash)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	var checkinView *CheckInView
	if checkin != nil {
		checkinView = &CheckInView{
			RowHash:     checkin.RowHash,
			CheckedInAt: checkin.CheckedInAt,
			CheckedInBy: checkin.CheckedInBy,
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"participant": &ParticipantView{
			RowNumber: participant.RowNumber,
			Headers:   participant.Headers,
			Data:      participant.Data,
		},
		"checkin": checkinView,
		"status":  DeriveStatus(participant, checkin),
	})
	return nil
}

// checkIn records admission for the participant behind a token. Public but
// PIN-gated: a stolen token alone cannot check anyone in. Returns the HTTP
// status written; its denial bodies carry ok:false rather than the generic
// error shape so gate UIs can read the lockout expiry.
func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request, req *Request, ip string) int {
	// Structural validation runs before the limiter: malformed requests must
	// not consume attempt budget.
	if err := validate.Token(req.Token); err != nil {
		return h.fail(w, err)
	}
	if err := validate.PIN(req.PIN); err != nil {
		return h.fail(w, err)
	}

	decision := h.pins.Allow(ip, req.Token)
	if !decision.Allowed {
		h.logger.Warn("PIN rate limit exceeded", "ip", truncateIP(ip, 8))
		body := map[string]any{
			"ok":    false,
			"error": "too many attempts",
		}
		if !decision.LockedUntil.IsZero() {
			body["error"] = "temporarily locked due to too many failed attempts"
			body["lockedUntil"] = decision.LockedUntil.UTC()
		}
		h.writeJSON(w, http.StatusTooManyRequests, body)
		return http.StatusTooManyRequests
	}

	if h.adminPIN == "" {
		return h.fail(w, fmt.Errorf("%w: admin PIN not configured", ErrConfig))
	}
	if subtle.ConstantTimeCompare([]byte(req.PIN), []byte(h.adminPIN)) != 1 {
		h.logger.Warn("invalid PIN attempt", "ip", truncateIP(ip, 8))
		h.writeJSON(w, http.StatusForbidden, map[string]any{
			"ok":    false,
			"error": "invalid PIN",
		})
		return http.StatusForbidden
	}

	if h.codec == nil {
		return h.fail(w, fmt.Errorf("%w: signing secret not configured", ErrConfig))
	}
	claims, err := h.codec.Verify(req.Token)
	if err != nil {
		return h.fail(w, err)
	}
	if err := validate.RowHash(claims.RowHash); err != nil {
		return h.fail(w, err)
	}

	if !h.allowRecheck {
		existing, err := h.store.GetCheckIn(r.Context(), claims.RowHash)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return h.fail(w, fmt.Errorf("%w: %v", ErrUpstream, err))
		}
		if existing != nil {
			h.writeJSON(w, http.StatusConflict, map[string]any{
				"ok":            false,
				"error":         "already checked in",
				"checked_in_at": existing.CheckedInAt,
			})
			return http.StatusConflict
		}
	}

	err = h.store.UpsertCheckIn(r.Context(), &store.CheckIn{
		RowHash:     claims.RowHash,
		CheckedInAt: h.now().UTC(),
		CheckedInBy: truncateIP(ip, attributionLen),
	})
	if err != nil {
		return h.fail(w, fmt.Errorf("%w: %v", ErrUpstream, err))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	return http.StatusOK
}

// fail writes the generic error body for check_in paths outside the
// ok:false denial shapes.
func (h *Handler) fail(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	h.logger.Error("check_in failed", "status", status, "error", err)
	h.writeError(w, status, clientMessage(err, h.production))
	return status
}

// sendEmail delivers one participant's entry pass by mail. Admin only.
func (h *Handler) sendEmail(w http.ResponseWriter, r *http.Request, req *Request) error {
	if err := h.requireAdmin(r); err != nil {
		return err
	}
	if err := validate.RowHash(req.RowHash); err != nil {
		return err
	}
	if h.mailer == nil {
		return fmt.Errorf("%w: mail provider not configured", ErrConfig)
	}

	tok, link, err := h.issueLink(req, req.RowHash)
	if err != nil {
		return err
	}

	participant, err := h.store.GetParticipant(r.Context(), req.RowHash)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: participant", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	to := req.To
	if to == "" {
		to, _ = detect.Email(participant.Headers, participant.Data)
	}
	if err := validate.Email(to); err != nil {
		return fmt.Errorf("recipient email not found for this row: %w", err)
	}

	name := req.Name
	if name == "" {
		name, _ = detect.Name(participant.Headers, participant.Data)
	}

	from, err := mail.ResolveFrom(req.From, h.allowedFrom)
	if err != nil {
		return err
	}

	msg, err := h.composeMessage(req, to, name, link, from, h.attachment(r.Context(), req))
	if err != nil {
		return err
	}

	result, err := h.mailer.Send(r.Context(), msg)
	if err != nil {
		if errors.Is(err, mail.ErrNoAPIKey) {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"url":    link,
		"token":  tok,
		"result": result,
	})
	return nil
}

// BulkResult reports one recipient's outcome from bulk_send.
type BulkResult struct {
	RowHash string          `json:"row_hash"`
	Sent    *bool           `json:"sent,omitempty"`
	Skipped bool            `json:"skipped,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// bulkSend fans entry pass mail out to every paid participant with a small
// worker pool. Each recipient's outcome is independent: a failed or skipped
// send never aborts the batch.
func (h *Handler) bulkSend(w http.ResponseWriter, r *http.Request, req *Request) error {
	if err := h.requireAdmin(r); err != nil {
		return err
	}
	if h.mailer == nil {
		return fmt.Errorf("%w: mail provider not configured", ErrConfig)
	}
	if h.codec == nil {
		return fmt.Errorf("%w: signing secret not configured", ErrConfig)
	}
	if _, err := h.baseURL(req); err != nil {
		return err
	}

	from, err := mail.ResolveFrom(req.From, h.allowedFrom)
	if err != nil {
		return err
	}

	participants, err := h.store.ListParticipants(r.Context())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// One shared attachment for the whole batch
	attachment := h.attachment(r.Context(), req)

	results := make([]BulkResult, len(participants))
	indexes := make(chan int)

	var wg sync.WaitGroup
	workers := bulkSendWorkers
	if len(participants) < workers {
		workers = len(participants)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				results[idx] = h.bulkSendOne(r.Context(), req, participants[idx], from, attachment)
			}
		}()
	}
	for i := range participants {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"results": results,
	})
	return nil
}

// bulkSendOne issues a token and sends mail to a single participant.
func (h *Handler) bulkSendOne(ctx context.Context, req *Request, p *store.Participant, from string, attachment *mail.Attachment) BulkResult {
	res := BulkResult{RowHash: p.RowHash}

	to, ok := detect.Email(p.Headers, p.Data)
	if !ok || validate.Email(to) != nil {
		res.Skipped = true
		res.Reason = "no-email"
		return res
	}

	_, link, err := h.issueLink(req, p.RowHash)
	if err != nil {
		sent := false
		res.Sent = &sent
		res.Error = err.Error()
		return res
	}

	name, _ := detect.Name(p.Headers, p.Data)
	msg, err := h.composeMessage(req, to, name, link, from, attachment)
	if err == nil {
		var result json.RawMessage
		result, err = h.mailer.Send(ctx, msg)
		res.Result = result
	}

	sent := err == nil
	res.Sent = &sent
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// composeMessage expands templates and assembles one outbound message.
func (h *Handler) composeMessage(req *Request, to, name, link, from string, attachment *mail.Attachment) (*mail.Message, error) {
	vars := mail.Vars{Name: name, Email: to, URL: link}
	htmlBody, textBody, err := mail.Bodies(req.HTML, req.Text, vars)
	if err != nil {
		return nil, err
	}

	subject := req.Subject
	if subject == "" {
		subject = h.defaultSubject
	}

	msg := &mail.Message{
		From:    from,
		To:      to,
		Subject: subject,
		HTML:    htmlBody,
		Text:    textBody,
	}
	if attachment != nil {
		msg.Attachments = []mail.Attachment{*attachment}
	}
	return msg, nil
}

// attachment resolves the request's PDF attachment, inline form first.
func (h *Handler) attachment(ctx context.Context, req *Request) *mail.Attachment {
	if a := mail.InlineAttachment(req.PDFName, req.PDFBase64); a != nil {
		return a
	}
	if req.PDFURL != "" && validate.URL(req.PDFURL) == nil {
		return mail.FetchAttachment(ctx, nil, req.PDFURL)
	}
	return nil
}
