package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// HeaderName is the header carrying the body signature on inbound webhooks
	HeaderName = "X-Hub-Signature-256"

	// Algorithm is the only supported signature algorithm prefix
	Algorithm = "sha256"

	// MinSecretBytes is the minimum generated secret size (192 bits)
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum generated secret size (512 bits)
	MaxSecretBytes = 64
)

// GenerateSecret creates a new hex-encoded shared secret
// between MinSecretBytes and MaxSecretBytes in size.
func GenerateSecret(size int) (string, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return "", fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(bytes), nil
}

// Signature is a parsed X-Hub-Signature-256 value
type Signature struct {
	Algorithm string
	Digest    []byte
}

// String returns the signature in the format: sha256=<hex digest>
func (s Signature) String() string {
	return fmt.Sprintf("%s=%s", s.Algorithm, hex.EncodeToString(s.Digest))
}

// ParseSignature parses a header value in the format: sha256=<hex digest>
func ParseSignature(header string) (Signature, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Signature{}, fmt.Errorf("signature header is empty")
	}

	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 {
		return Signature{}, fmt.Errorf("invalid signature format, expected 'sha256=<hex>'")
	}
	if parts[0] != Algorithm {
		return Signature{}, fmt.Errorf("unsupported signature algorithm: %s", parts[0])
	}

	digest, err := hex.DecodeString(parts[1])
	if err != nil {
		return Signature{}, fmt.Errorf("decoding signature digest: %w", err)
	}
	if len(digest) != sha256.Size {
		return Signature{}, fmt.Errorf("signature digest must be %d bytes, got %d", sha256.Size, len(digest))
	}

	return Signature{Algorithm: parts[0], Digest: digest}, nil
}

// Sign computes the HMAC-SHA256 signature of the raw body
func Sign(secret, body []byte) Signature {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return Signature{
		Algorithm: Algorithm,
		Digest:    mac.Sum(nil),
	}
}

// Verify checks the header value against the raw body using constant-time comparison.
// A malformed header is reported as an error, a well-formed but wrong one as false.
func Verify(secret, body []byte, header string) (bool, error) {
	if len(secret) == 0 {
		return false, fmt.Errorf("signing secret is empty")
	}

	expected, err := ParseSignature(header)
	if err != nil {
		return false, fmt.Errorf("parsing signature: %w", err)
	}

	calculated := Sign(secret, body)
	return subtle.ConstantTimeCompare(expected.Digest, calculated.Digest) == 1, nil
}

// VerifyMultiple verifies the header against several secrets (for secret rotation)
// Returns true if any of the secrets produced the signature
func VerifyMultiple(secrets [][]byte, body []byte, header string) (bool, error) {
	if len(secrets) == 0 {
		return false, fmt.Errorf("must provide at least one secret")
	}

	expected, err := ParseSignature(header)
	if err != nil {
		return false, fmt.Errorf("parsing signature: %w", err)
	}

	for _, secret := range secrets {
		if len(secret) == 0 {
			continue
		}
		calculated := Sign(secret, body)
		if subtle.ConstantTimeCompare(expected.Digest, calculated.Digest) == 1 {
			return true, nil
		}
	}

	return false, nil
}
