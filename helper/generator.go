package helper

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/oklog/ulid"
)

// GenerateRandomString generates a cryptographically secure random string
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:length]
}

// GenerateRequestID returns a sortable unique request identifier
func GenerateRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// GenerateShortID returns a short identifier for log correlation
func GenerateShortID() string {
	bytes := make([]byte, 4) // 4 bytes = 8 hex characters
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// GenerateProtectionKey returns a fresh 256-bit key for the token codec
func GenerateProtectionKey() []byte {
	key := make([]byte, 32)
	rand.Read(key)
	return key
}
