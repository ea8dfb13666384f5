// Package token holds the token primitives shared by the auth packages.
//
// Codec signs and verifies compact JWTs (HMAC-SHA-2 family). Tokens are signed, not
// encrypted: any holder can read the claims, only forgery is prevented. Expiry is strict,
// with no clock-skew allowance.
//
// Digester produces the one-way digest under which refresh tokens are stored. Without a key
// it is SHA-256(token); with a key it is HMAC-SHA-256(token, key), so a leaked table cannot
// be checked offline. Output is always 64 lowercase hex characters.
package token
