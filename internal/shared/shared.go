// Package shared holds small helpers used across the connection, session,
// and link layers that don't belong to any one of them.
package shared

import (
	"crypto/rand"
	"fmt"
)

const randCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns an n-byte random string drawn from an alphanumeric
// charset, used to generate default link and container names.
func RandString(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader never fails in practice;
		// fall back to a fixed, clearly non-unique string rather than panic.
		return fmt.Sprintf("rand-read-error-%d", n)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = randCharset[int(b)%len(randCharset)]
	}
	return string(out)
}
