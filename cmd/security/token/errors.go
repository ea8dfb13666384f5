package token

import "errors"

var (
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenExpired         = errors.New("token expired")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrSecretTooShort       = errors.New("signing secret too short")
	ErrHMACKeyTooShort      = errors.New("token HMAC key too short")
)
