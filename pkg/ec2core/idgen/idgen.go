// Package idgen generates EC2 style resource ids.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// HexLength matches the hexadecimal suffix width of modern EC2 ids
const HexLength = 17

type Kind string

const (
	KindInstance    Kind = "i-"
	KindReservation Kind = "r-"
	KindVolume      Kind = "vol-"
)

func Hex(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid hex id length %d", length)
	}

	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf)[:length], nil
}

// New returns a fresh id of the given kind
func New(kind Kind) (string, error) {
	suffix, err := Hex(HexLength)
	if err != nil {
		return "", fmt.Errorf("generating %sid: %w", kind, err)
	}
	return string(kind) + suffix, nil
}

// Is reports whether id looks like an id of the given kind
func Is(kind Kind, id string) bool {
	suffix, ok := strings.CutPrefix(id, string(kind))
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
