package store

import (
	"crypto/rand"
	"fmt"
)

const (
	shareIDPrefix   = "R_"
	shareIDLength   = 6
	shareIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewShareID generates a candidate share id: the R_ prefix followed by six
// random base-36 characters, uppercase. Uniqueness is enforced by the
// collection's unique index, not here.
func NewShareID() (string, error) {
	buf := make([]byte, shareIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share id: %w", err)
	}
	id := make([]byte, shareIDLength)
	for i, b := range buf {
		id[i] = shareIDAlphabet[int(b)%len(shareIDAlphabet)]
	}
	return shareIDPrefix + string(id), nil
}
