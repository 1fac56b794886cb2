// Package crypto provides key generation and keyed hashing used to store
// peer identifiers without keeping raw addresses.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// KeySize is the size of keys produced by GenerateKey.
const KeySize = 32

// ErrKeyTooLong is returned for keys longer than BLAKE2b accepts.
var ErrKeyTooLong = errors.New("crypto: key longer than 64 bytes")

// GenerateKey generates a random KeySize-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// KeyedHash returns the first 8 bytes of the keyed BLAKE2b-256 digest of
// data, hex encoded.
func KeyedHash(key, data []byte) (string, error) {
	if len(key) > blake2b.Size {
		return "", ErrKeyTooLong
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("crypto: new hash: %w", err)
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)[:8]), nil
}
