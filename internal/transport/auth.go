package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"
)

// VerifyHMACWithTimestamp implements spec §4.2's direct-webhook verification
// mode: base string "v0:<timestamp>:<raw-body>", expected signature
// "v0=" + lowerHex(HMAC_SHA256(secret, base)), constant-time compared, and
// rejected as a replay if the timestamp is more than 5 minutes from now.
// Grounded on nexus/internal/voice/twilio.go's VerifyWebhook (HMAC over a
// canonical string, hmac.Equal for the comparison), adapted from Twilio's
// HMAC-SHA1/base64 scheme to the spec's HMAC-SHA256/hex "v0=" scheme.
func VerifyHMACWithTimestamp(secret, timestamp, body, signature string) bool {
	if secret == "" || timestamp == "" || signature == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().Unix()
	if math.Abs(float64(now-ts)) > 5*60 {
		return false
	}

	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// VerifyBearer implements spec §4.2's forwarded-proxy verification mode:
// "Authorization: Bearer <shared-secret>" compared in constant time.
func VerifyBearer(expectedToken, authorizationHeader string) bool {
	if expectedToken == "" {
		return false
	}
	const prefix = "Bearer "
	if len(authorizationHeader) <= len(prefix) || authorizationHeader[:len(prefix)] != prefix {
		return false
	}
	got := authorizationHeader[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(got), []byte(expectedToken)) == 1
}
