package service

import (
	"crypto/rand"
	"encoding/hex"
)

// accessCodeAlphabet avoids characters students confuse when reading a code
// off someone's screen (0/O, 1/I/L).
const accessCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const accessCodeLength = 8

// NewAccessCode returns the short public code a student uses to resume an
// attempt. Uniqueness is enforced by the session_records constraint; at 31^8
// codes, retrying a collision is not worth the code.
func NewAccessCode() string {
	buf := make([]byte, accessCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = accessCodeAlphabet[int(b)%len(accessCodeAlphabet)]
	}
	return string(buf)
}

// NewSessionToken returns the private per-connection token. It rotates on
// every resume of an abandoned attempt, which is what invalidates stale
// tabs.
func NewSessionToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
