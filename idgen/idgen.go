// Package idgen generates the short alphanumeric identifiers the spec
// requires for connection and call ids: ten characters, drawn from
// [A-Za-z0-9], unique only in the statistical sense — the rpc host is
// responsible for rejecting a colliding connection id on registration,
// not this package.
package idgen

import (
	"crypto/rand"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	length   = 10
)

// New returns a fresh ten-character alphanumeric identifier.
func New() string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on any supported platform does not fail in
		// practice; a panic here would indicate a broken OS entropy
		// source, which no caller of New could recover from anyway.
		panic("idgen: failed to read random bytes: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}
