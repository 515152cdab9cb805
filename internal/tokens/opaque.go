package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewOpaque returns a 32-byte random token, hex-encoded.
func NewOpaque() (string, error) {
	const op = "tokens.NewOpaque"

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return hex.EncodeToString(buf), nil
}
