// Package session provides the server-side token lifecycle for a multi-user
// application: short-lived signed access tokens, opaque single-use refresh
// tokens, and the HTTP surface that issues, verifies, and revokes them.
//
// Token lifecycle:
//   - TokenService mints and verifies HS256 access tokens. Verification is
//     pure: signature plus expiry only, no I/O and no grace window.
//   - RefreshTokenStore owns the persisted refresh tokens. Every refresh call
//     consumes the presented token atomically and issues a brand-new one
//     (full rotation); presenting a rotated token again is treated as a theft
//     signal and revokes every token the owning user holds.
//   - Auther ties repositories, the token service, and the store together for
//     the register, login, refresh, and logout endpoints served by
//     AuthController.
//
// The middleware/bearer subpackage gates protected routes, collapsing every
// verification failure into one opaque 401 so the endpoint cannot be used as
// a verification oracle. The client subpackage holds the consumer side: a
// session state machine that bootstraps from secure storage, renews tokens
// ahead of expiry, and tears down credentials on failure.
package session
