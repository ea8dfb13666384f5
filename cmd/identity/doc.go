// Package identity stores Pulse credentials: the user id, the email used to sign in and the
// self-describing password hash.
//
// Emails are matched on their normalized form (trimmed, lower-cased). The package never sees
// plain passwords; hashing belongs to cmd/security/password.
package identity
