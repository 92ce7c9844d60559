package phonepe

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature authenticates an inbound callback body against
// the X-VERIFY header. The expected digest is hex(sha256(body + saltKey));
// the header carries it before the "###" separator. Comparison is
// constant-time. Malformed or missing headers return false, never panic:
// this is the trust boundary for a public endpoint.
func VerifyWebhookSignature(rawBody []byte, signatureHeader, saltKey string) bool {
	received, _, found := strings.Cut(signatureHeader, "###")
	if !found || received == "" {
		return false
	}
	sum := sha256.Sum256(append(append([]byte{}, rawBody...), []byte(saltKey)...))
	expected := hex.EncodeToString(sum[:])
	if len(received) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
