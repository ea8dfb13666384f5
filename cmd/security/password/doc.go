// Package password hashes and verifies user passwords for Pulse.
//
// New hashes are Argon2id in the PHC string format:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<threads>$<salt>$<key>
//
// The string embeds every parameter needed for verification, so it can be stored verbatim.
// Stored hashes are untrusted input: Verify parses them strictly and refuses parameters far
// above the configured cost. bcrypt strings from older account imports still verify and are
// reported by NeedsRehash.
package password
