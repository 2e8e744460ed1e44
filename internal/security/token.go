// Package security provides opaque credential generation for the token
// broker. Adapted from the node-identity keypair generator's use of
// crypto/rand + hex encoding, minus the Ed25519 signing this control
// plane has no use for — tunnel tokens are bearer-opaque, not signed.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is 256 bits of entropy, hex-encoded to 64 characters, per
// §4.5's "≥256-bit entropy" requirement.
const tokenBytes = 32

// GenerateOpaqueToken returns a high-entropy, hex-encoded bearer token
// suitable for a TunnelToken.
func GenerateOpaqueToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
