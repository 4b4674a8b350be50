package pass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsuri-dev/entrypass/internal/config"
	"github.com/matsuri-dev/entrypass/internal/guard"
	"github.com/matsuri-dev/entrypass/internal/mail"
	"github.com/matsuri-dev/entrypass/internal/store"
	"github.com/matsuri-dev/entrypass/internal/token"
)

const (
	testSecret  = "test-signing-secret"
	testPIN     = "123456"
	testAdmin   = "shared-admin-secret"
	testRowHash = "abc123def456ghi789jkl012mno345"
)

// fakeMailer records sent messages and can fail selected recipients.
type fakeMailer struct {
	mu     sync.Mutex
	sent   []*mail.Message
	failTo map[string]bool
}

func (f *fakeMailer) Send(_ context.Context, msg *mail.Message) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[msg.To] {
		return nil, fmt.Errorf("provider rejected %s", msg.To)
	}
	f.sent = append(f.sent, msg)
	return json.RawMessage(`{"id":"msg-1"}`), nil
}

func (f *fakeMailer) messages() []*mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mail.Message(nil), f.sent...)
}

// fakeIdentity resolves bearer credentials from a fixed map.
type fakeIdentity struct {
	users map[string]string
}

func (f *fakeIdentity) ResolveEmail(_ context.Context, bearer string) (string, error) {
	if email, ok := f.users[bearer]; ok {
		return email, nil
	}
	return "", ErrUnauthorized
}

type testEnv struct {
	handler *Handler
	store   *store.SQLiteStore
	codec   *token.Codec
	mailer  *fakeMailer
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: ":0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth: config.AuthConfig{
			SigningSecret: testSecret,
			AdminPIN:      testPIN,
			AdminSecret:   testAdmin,
			AdminEmails:   []string{"staff@example.com"},
		},
		App:  config.AppConfig{PublicURL: "https://tickets.example.com"},
		Mail: config.MailConfig{AllowedFrom: []string{"events@example.com"}},
	}
}

func setupHandler(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	codec, err := token.NewCodec([]byte(cfg.Auth.SigningSecret))
	require.NoError(t, err)

	mailer := &fakeMailer{failTo: map[string]bool{}}
	identity := &fakeIdentity{users: map[string]string{
		"staff-bearer":    "staff@example.com",
		"intruder-bearer": "intruder@example.com",
	}}

	h := New(cfg, codec, st, mailer, identity)
	return &testEnv{handler: h, store: st, codec: codec, mailer: mailer}
}

func seedParticipant(t *testing.T, st *store.SQLiteStore, rowHash string, rowNumber int, data map[string]string) {
	t.Helper()
	headers := make([]string, 0, len(data))
	for k := range data {
		headers = append(headers, k)
	}
	require.NoError(t, st.UpsertParticipants(context.Background(), []*store.Participant{{
		RowHash:   rowHash,
		RowNumber: rowNumber,
		Headers:   headers,
		Data:      data,
	}}))
}

// post sends an action request and decodes the JSON response.
func post(t *testing.T, h *Handler, body map[string]any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.RemoteAddr = "203.0.113.9:4242"
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func adminHeaders() map[string]string {
	return map[string]string{adminSecretHeader: testAdmin}
}

func TestOptions_Preflight(t *testing.T) {
	env := setupHandler(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "x-admin-secret")
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupHandler(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestTooLarge(t *testing.T) {
	env := setupHandler(t, testConfig())

	big := bytes.Repeat([]byte("a"), maxRequestSize+1)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnknownAction(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, body := post(t, env.handler, map[string]any{"action": "drop_table"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid action")
	assert.NotEmpty(t, body["timestamp"])
}

func TestBotFilter(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, _ := post(t, env.handler, map[string]any{"action": "resolve", "token": "a.b.c"},
		map[string]string{"User-Agent": "Googlebot/2.1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORS_OriginSelection(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowOrigins = []string{"https://gate.example.com"}
	env := setupHandler(t, cfg)

	// Allow-listed origin is echoed
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://gate.example.com")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://gate.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unlisted origin falls back to the public app origin
	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://tickets.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// No public URL configured means wildcard
	cfg2 := testConfig()
	cfg2.App.PublicURL = ""
	cfg2.CORS.AllowOrigins = nil
	env2 := setupHandler(t, cfg2)
	rec = httptest.NewRecorder()
	env2.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGenerateLink_Unauthorized(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, body := post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, body["token"], "no token may be issued on auth failure")
}

func TestGenerateLink_AdminSecret(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, body := post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, adminHeaders())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)
	claims, err := env.codec.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, testRowHash, claims.RowHash)

	url, _ := body["url"].(string)
	assert.Equal(t, "https://tickets.example.com/pass/"+tok, url)
}

func TestGenerateLink_WrongAdminSecret(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, _ := post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, map[string]string{adminSecretHeader: "wrong"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateLink_BearerAllowList(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, _ := post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, map[string]string{"Authorization": "Bearer staff-bearer"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Authenticated but not allow-listed
	rec, _ = post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, map[string]string{"Authorization": "Bearer intruder-bearer"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown bearer
	rec, _ = post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, map[string]string{"Authorization": "Bearer nobody"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateLink_EmptyAllowListAcceptsAnyIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AdminEmails = nil
	env := setupHandler(t, cfg)

	rec, _ := post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, map[string]string{"Authorization": "Bearer intruder-bearer"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateLink_InvalidRowHash(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, _ := post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": "short",
	}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateLink_CustomBaseURL(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, body := post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
		"baseUrl":  "https://other.example.com/",
	}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(body["url"].(string), "https://other.example.com/pass/"))

	rec, _ = post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
		"baseUrl":  "ftp://other.example.com",
	}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolve_InvalidToken(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, _ := post(t, env.handler, map[string]any{"action": "resolve", "token": "not a token"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Structurally valid but wrong signature
	other, err := token.NewCodec([]byte("other-secret"))
	require.NoError(t, err)
	forged, err := other.Issue(testRowHash)
	require.NoError(t, err)

	rec, _ = post(t, env.handler, map[string]any{"action": "resolve", "token": forged}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolve_UnknownRow(t *testing.T) {
	env := setupHandler(t, testConfig())

	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	rec, _ := post(t, env.handler, map[string]any{"action": "resolve", "token": tok}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntryPassScenario(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{
		"Name":  "Alice",
		"Email": "alice@example.com",
	})

	// Admin generates a link
	rec, body := post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	tok := body["token"].(string)

	// Participant resolves: data present, not yet checked in
	rec, body = post(t, env.handler, map[string]any{"action": "resolve", "token": tok}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	participant := body["participant"].(map[string]any)
	assert.Equal(t, float64(1), participant["row_number"])
	assert.Equal(t, "Alice", participant["data"].(map[string]any)["Name"])
	assert.Nil(t, body["checkin"])
	assert.Equal(t, string(StatusPaidPending), body["status"])

	// Staff check in with the correct PIN
	rec, body = post(t, env.handler, map[string]any{
		"action": "check_in",
		"token":  tok,
		"pin":    testPIN,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	// Resolving again shows the check-in
	rec, body = post(t, env.handler, map[string]any{"action": "resolve", "token": tok}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	checkin := body["checkin"].(map[string]any)
	assert.Equal(t, testRowHash, checkin["row_hash"])
	assert.NotEmpty(t, checkin["checked_in_at"])
	assert.Equal(t, string(StatusCheckedIn), body["status"])
}

func TestCheckIn_WrongPIN(t *testing.T) {
	env := setupHandler(t, testConfig())
	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	rec, body := post(t, env.handler, map[string]any{
		"action": "check_in",
		"token":  tok,
		"pin":    "999999",
	}, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["ok"])

	// The failed attempt still counted toward the limiter
	pins := env.handler.pins.(*guard.PinLimiter)
	assert.Equal(t, 1, pins.Attempts("203.0.113.9", tok))
}

func TestCheckIn_ValidationBeforeLimiter(t *testing.T) {
	env := setupHandler(t, testConfig())
	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	rec, _ := post(t, env.handler, map[string]any{
		"action": "check_in",
		"token":  tok,
		"pin":    "abc",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	pins := env.handler.pins.(*guard.PinLimiter)
	assert.Equal(t, 0, pins.Attempts("203.0.113.9", tok),
		"structural failures must not consume attempt budget")
}

func TestCheckIn_Lockout(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{"Name": "Alice"})
	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rec, _ := post(t, env.handler, map[string]any{
			"action": "check_in",
			"token":  tok,
			"pin":    "999999",
		}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, "attempt %d reaches PIN verification", i+1)
	}

	// 6th attempt is locked out even with the correct PIN
	rec, body := post(t, env.handler, map[string]any{
		"action": "check_in",
		"token":  tok,
		"pin":    testPIN,
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.NotEmpty(t, body["lockedUntil"])

	// No check-in happened
	_, err = env.store.GetCheckIn(context.Background(), testRowHash)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckIn_IdempotentOverwrite(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{"Name": "Alice"})
	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	rec, _ := post(t, env.handler, map[string]any{"action": "check_in", "token": tok, "pin": testPIN}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first, err := env.store.GetCheckIn(context.Background(), testRowHash)
	require.NoError(t, err)

	rec, body := post(t, env.handler, map[string]any{"action": "check_in", "token": tok, "pin": testPIN}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	second, err := env.store.GetCheckIn(context.Background(), testRowHash)
	require.NoError(t, err)
	assert.False(t, second.CheckedInAt.Before(first.CheckedInAt))
}

func TestCheckIn_RecheckDisallowed(t *testing.T) {
	cfg := testConfig()
	allow := false
	cfg.CheckIn.AllowRecheck = &allow
	env := setupHandler(t, cfg)
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{"Name": "Alice"})
	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	rec, _ := post(t, env.handler, map[string]any{"action": "check_in", "token": tok, "pin": testPIN}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := post(t, env.handler, map[string]any{"action": "check_in", "token": tok, "pin": testPIN}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.NotEmpty(t, body["checked_in_at"])
}

func TestCheckIn_Attribution(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{"Name": "Alice"})
	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]any{"action": "check_in", "token": tok, "pin": testPIN})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.Header.Set("X-Forwarded-For", "198.51.100.200, 10.0.0.1")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	checkin, err := env.store.GetCheckIn(context.Background(), testRowHash)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.", checkin.CheckedInBy[:11])
	assert.LessOrEqual(t, len(checkin.CheckedInBy), attributionLen)
}

func TestRequestRateLimit(t *testing.T) {
	env := setupHandler(t, testConfig())
	env.handler.requests = guard.NewRequestLimiter(guard.DefaultWindow, 2)
	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rec, _ := post(t, env.handler, map[string]any{"action": "resolve", "token": tok}, nil)
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}

	rec, _ := post(t, env.handler, map[string]any{"action": "resolve", "token": tok}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different action from the same IP has its own budget
	rec, _ = post(t, env.handler, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, adminHeaders())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendEmail(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{
		"Name":  "Alice",
		"Email": "alice@example.com",
	})

	rec, body := post(t, env.handler, map[string]any{
		"action":   "send_email",
		"row_hash": testRowHash,
	}, adminHeaders())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["url"])
	assert.NotEmpty(t, body["token"])
	assert.NotNil(t, body["result"])

	msgs := env.mailer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice@example.com", msgs[0].To)
	assert.Equal(t, "events@example.com", msgs[0].From)
	assert.Equal(t, "Your Entry Pass", msgs[0].Subject)
	assert.Contains(t, msgs[0].Text, body["url"].(string))
	assert.Contains(t, msgs[0].HTML, "Alice 様")
}

func TestSendEmail_ExplicitRecipientAndTemplates(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{"Name": "Alice"})

	rec, _ := post(t, env.handler, map[string]any{
		"action":   "send_email",
		"row_hash": testRowHash,
		"to":       "override@example.com",
		"name":     "Override",
		"subject":  "Gate info",
		"html":     "<p>{{name}}: {{url}}</p>",
		"text":     "{{name}}: {{url}}",
	}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := env.mailer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "override@example.com", msgs[0].To)
	assert.Equal(t, "Gate info", msgs[0].Subject)
	assert.True(t, strings.HasPrefix(msgs[0].Text, "Override: https://"))
}

func TestSendEmail_NoDetectableRecipient(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{"Name": "Alice"})

	rec, _ := post(t, env.handler, map[string]any{
		"action":   "send_email",
		"row_hash": testRowHash,
	}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.mailer.messages())
}

func TestSendEmail_SenderNotAllowed(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, testRowHash, 1, map[string]string{"Email": "alice@example.com"})

	rec, _ := post(t, env.handler, map[string]any{
		"action":   "send_email",
		"row_hash": testRowHash,
		"from":     "spoof@example.com",
	}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.mailer.messages())
}

func TestSendEmail_Unauthorized(t *testing.T) {
	env := setupHandler(t, testConfig())

	rec, _ := post(t, env.handler, map[string]any{
		"action":   "send_email",
		"row_hash": testRowHash,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.mailer.messages())
}

func TestBulkSend(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, "aaa111aaa111aaa111", 1, map[string]string{"Email": "a@example.com"})
	seedParticipant(t, env.store, "bbb222bbb222bbb222", 2, map[string]string{"Name": "No Email"})
	seedParticipant(t, env.store, "ccc333ccc333ccc333", 3, map[string]string{"Email": "c@example.com"})
	env.mailer.failTo["c@example.com"] = true

	rec, body := post(t, env.handler, map[string]any{"action": "bulk_send"}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	results := body["results"].([]any)
	require.Len(t, results, 3)

	byHash := map[string]map[string]any{}
	for _, r := range results {
		res := r.(map[string]any)
		byHash[res["row_hash"].(string)] = res
	}

	assert.Equal(t, true, byHash["aaa111aaa111aaa111"]["sent"])
	assert.Equal(t, true, byHash["bbb222bbb222bbb222"]["skipped"])
	assert.Equal(t, "no-email", byHash["bbb222bbb222bbb222"]["reason"])
	assert.Equal(t, false, byHash["ccc333ccc333ccc333"]["sent"])
	assert.Contains(t, byHash["ccc333ccc333ccc333"]["error"], "c@example.com")

	// One failure did not stop the other send
	msgs := env.mailer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a@example.com", msgs[0].To)
}

func TestBulkSend_DistinctTokensPerRecipient(t *testing.T) {
	env := setupHandler(t, testConfig())
	seedParticipant(t, env.store, "aaa111aaa111aaa111", 1, map[string]string{"Email": "a@example.com"})
	seedParticipant(t, env.store, "bbb222bbb222bbb222", 2, map[string]string{"Email": "b@example.com"})

	rec, _ := post(t, env.handler, map[string]any{"action": "bulk_send"}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := env.mailer.messages()
	require.Len(t, msgs, 2)
	assert.NotEqual(t, msgs[0].Text, msgs[1].Text, "each recipient gets their own token link")
}

func TestConfigErrors(t *testing.T) {
	// No signing secret: resolve and generate_link fail with a config error
	cfg := testConfig()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	h := New(cfg, nil, st, &fakeMailer{}, nil)

	rec, body := post(t, h, map[string]any{
		"action":   "generate_link",
		"row_hash": testRowHash,
	}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "misconfigured")

	// No admin PIN: check_in fails with a config error, not a panic or a pass
	cfg2 := testConfig()
	cfg2.Auth.AdminPIN = ""
	env := setupHandler(t, cfg2)
	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	rec, _ = post(t, env.handler, map[string]any{
		"action": "check_in",
		"token":  tok,
		"pin":    "123456",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductionMasksInternalErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "production"
	env := setupHandler(t, cfg)
	env.store.Close() // force an upstream failure

	tok, err := env.codec.Issue(testRowHash)
	require.NoError(t, err)

	rec, body := post(t, env.handler, map[string]any{"action": "resolve", "token": tok}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "an internal error occurred", body["error"])
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.1, 10.0.0.1")
	assert.Equal(t, "192.0.2.1", clientIP(req))
}
