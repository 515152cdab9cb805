package code

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// Generate returns a uniformly random 6-digit decimal code. The range
// starts at 100000 so the result is always exactly six digits.
func Generate() (string, error) {
	const op = "lib.code.Generate"

	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Sprintf("%d", n.Int64()+codeMin), nil
}
