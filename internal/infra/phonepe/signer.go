package phonepe

import (
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes the gateway's X-VERIFY digests. The construction is
// gateway-mandated byte for byte: hex(sha256(payload + path + saltKey))
// followed by "###" and the salt index. The salt key never leaves this
// struct; it is not included in errors or logs.
type Signer struct {
	saltKey   string
	saltIndex string
}

func NewSigner(saltKey, saltIndex string) *Signer {
	return &Signer{saltKey: saltKey, saltIndex: saltIndex}
}

// SignPayload signs a POST operation: base64 body + API path + salt key.
func (s *Signer) SignPayload(base64Payload, apiPath string) string {
	return s.digest(base64Payload + apiPath)
}

// SignPath signs a GET/status operation, where the payload is empty.
func (s *Signer) SignPath(apiPath string) string {
	return s.digest(apiPath)
}

func (s *Signer) digest(data string) string {
	sum := sha256.Sum256([]byte(data + s.saltKey))
	return hex.EncodeToString(sum[:]) + "###" + s.saltIndex
}
