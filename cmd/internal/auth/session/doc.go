// Package session implements Pulse's credential and session-token lifecycle.
//
// Access tokens are short-lived JWTs checked by signature and expiry alone. Refresh tokens use
// the same encoding but are only ever accepted through a server-side digest lookup, so they can
// be revoked. Each user holds at most one active refresh token: issuing a new one revokes the
// previous one in the same transaction, and every successful refresh rotates the presented
// token out.
//
// Revoked and expired records are swept by Sweeper on a ticker and after logout.
package session
