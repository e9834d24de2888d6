package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Detail keys whose values are salted before hitting the sink.
var sensitiveKeys = map[string]bool{
	"token": true,
}

// HMACer salts sensitive values so audit lines can be correlated without
// exposing live capabilities.
type HMACer struct {
	key []byte
}

func NewHMACer(key string) *HMACer {
	return &HMACer{
		key: []byte(key),
	}
}

// Salt salts a string using HMAC-SHA256
func (h *HMACer) Salt(data string) string {
	if data == "" {
		return ""
	}

	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(data))

	return "hmac-sha256:" + hex.EncodeToString(mac.Sum(nil))
}
