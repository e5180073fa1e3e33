package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const hashPrefix = "sha256:"

// ContentHash computes the content-addressable hash of an application image.
// Unlike the module CRC it covers every byte, so two builds that collide on
// CRC-16 still get separate entries.
func ContentHash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	hash := sha256.Sum256(data)
	return hashPrefix + hex.EncodeToString(hash[:]), nil
}

// ShortHash returns a shortened version of the hash for display purposes.
func ShortHash(fullHash string) string {
	if len(fullHash) > 19 {
		return fullHash[7:19] // Skip "sha256:" prefix
	}
	return fullHash
}

// hashToFilename converts a full hash to a safe filename.
func hashToFilename(hash string) string {
	return strings.TrimPrefix(hash, hashPrefix)
}
