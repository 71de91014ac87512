package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against the
// Binance REST API.
type HMACAuth struct {
	Key    string // API key, sent as X-MBX-APIKEY
	Secret string // API secret, the HMAC key
}

// SignQuery appends a timestamp to the query parameters and signs the encoded
// string with HMAC-SHA256. The returned string is the full query including
// the signature parameter, ready to append to the request URL.
func (h *HMACAuth) SignQuery(params url.Values) string {
	return h.SignQueryAt(params, time.Now().UnixMilli())
}

// SignQueryAt is like SignQuery but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignQueryAt(params url.Values, tsMillis int64) string {
	params.Set("timestamp", strconv.FormatInt(tsMillis, 10))
	encoded := params.Encode()
	return encoded + "&signature=" + hmacSHA256Hex([]byte(h.Secret), encoded)
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

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result hex-encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
