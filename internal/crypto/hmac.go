package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the API credentials for HMAC-authenticated REST requests
// against a venue gateway.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret, base64-encoded
	Passphrase string // API passphrase
}

// Headers returns the HTTP headers for a gateway request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64; the
// secret is base64-decoded before use.
func (h *HMACAuth) Headers(address, method, path, body string) map[string]string {
	return h.HeadersAt(address, method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp, for
// deterministic testing.
func (h *HMACAuth) HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		// An undecodable secret produces an obviously-wrong signature rather
		// than a panic; the gateway rejects the request with a clear 401.
		secretBytes = []byte(h.Secret)
	}

	message := ts + method + path + body
	sig := hmacSHA256Base64(secretBytes, message)

	return map[string]string{
		"FA-ADDRESS":    address,
		"FA-API-KEY":    h.Key,
		"FA-TIMESTAMP":  ts,
		"FA-PASSPHRASE": h.Passphrase,
		"FA-SIGNATURE":  sig,
	}
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message and returns it base64
// standard-encoded.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
