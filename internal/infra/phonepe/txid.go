package phonepe

import (
	"crypto/rand"
	"fmt"
	"time"
)

const txidAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateMerchantTransactionID mints a gateway-facing transaction id:
// KRISHI_<merchant fragment>_<epoch millis>_<6 random chars>.
// The random suffix is the collision guard for calls landing in the
// same millisecond (36^6 ≈ 2.2e9 combinations). Total length stays
// under the gateway's 38-char ceiling.
func GenerateMerchantTransactionID(merchantID string) string {
	frag := merchantID
	if len(frag) > 8 {
		frag = frag[:8]
	}
	return fmt.Sprintf("KRISHI_%s_%d_%s", frag, time.Now().UnixMilli(), randomSuffix(6))
}

func randomSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// a nanosecond-derived suffix rather than returning an empty id.
		ns := time.Now().UnixNano()
		for i := range b {
			b[i] = txidAlphabet[int(ns>>uint(i*5))%len(txidAlphabet)]
		}
		return string(b)
	}
	for i := range b {
		b[i] = txidAlphabet[int(b[i])%len(txidAlphabet)]
	}
	return string(b)
}
