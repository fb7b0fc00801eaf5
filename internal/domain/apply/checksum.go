package apply

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// Algorithm names a pre-image checksum algorithm.
type Algorithm string

const (
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmBLAKE3 Algorithm = "blake3"
)

const blake3Prefix = "blake3:"

// Checksum returns the lowercase hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumBLAKE3 returns "blake3:" followed by the lowercase hex BLAKE3-256
// digest of data.
func ChecksumBLAKE3(data []byte) string {
	sum := blake3.Sum256(data)
	return blake3Prefix + hex.EncodeToString(sum[:])
}

// ComputeChecksum hashes data with the named algorithm.
func ComputeChecksum(algo Algorithm, data []byte) (string, error) {
	switch algo {
	case "", AlgorithmSHA256:
		return Checksum(data), nil
	case AlgorithmBLAKE3:
		return ChecksumBLAKE3(data), nil
	default:
		return "", fmt.Errorf("apply: unknown checksum algorithm %q", algo)
	}
}

// FileChecksum hashes the file at path. A missing file hashes as empty,
// matching how Diff treats it.
func FileChecksum(algo Algorithm, path string) (string, error) {
	data, _, err := readPreImage(path)
	if err != nil {
		return "", err
	}
	return ComputeChecksum(algo, data)
}

// checksumLike hashes data with the algorithm implied by expected.
func checksumLike(expected string, data []byte) string {
	if strings.HasPrefix(expected, blake3Prefix) {
		return ChecksumBLAKE3(data)
	}
	return Checksum(data)
}

func readPreImage(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, true, nil
	}
	if os.IsNotExist(err) {
		return []byte{}, false, nil
	}
	return nil, false, &IOError{Op: "read", Path: path, Err: err}
}
