// Package pass implements the entry pass protocol over a single POST endpoint.
//
// # Actions
//
// The endpoint accepts a JSON body with a required action field:
//
//   - generate_link: admin-only; mints a signed token for a row hash and
//     returns the participant-facing URL.
//   - resolve: public; verifies a token and returns participant details plus
//     check-in state. Read-only.
//   - check_in: public but PIN-gated; records admission as an upsert keyed by
//     row hash. The only state-mutating public action.
//   - send_email / bulk_send: admin-only; deliver entry pass links through the
//     mail provider, bulk with a bounded worker pool.
//
// # Gating order
//
// Every request passes, in order: method and body-size checks, bot filtering,
// structural field validation, per-(IP, action) rate limiting, then action
// dispatch. check_in additionally passes the per-(IP, token) PIN limiter
// before the PIN is compared. Validation always precedes limiter mutation, so
// malformed requests consume no attempt budget.
//
// # Authorization
//
// Admin actions accept the pre-shared x-admin-secret header or a bearer
// credential resolved to an email by the configured identity service, checked
// against the admin allow-list. Tokens themselves are bearer capabilities: a
// valid token grants resolve, and token plus PIN grants check-in.
//
// # Errors
//
// Failures map onto a small taxonomy (unauthorized, forbidden, not found,
// rate limited, validation, config, upstream) and are returned as
// {error, timestamp} bodies; check_in denial paths instead return ok:false
// bodies carrying the lockout expiry so gate UIs can show wait time. In
// production mode, internal error detail is logged but not returned.
package pass
