package backup

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// checksumChunkSize bounds the memory used while hashing
const checksumChunkSize = 8192

// ChecksumVerifier computes and checks SHA-256 digests of artifacts
type ChecksumVerifier struct {
	chunkSize int
}

// NewChecksumVerifier creates a verifier that streams files in fixed-size chunks
func NewChecksumVerifier() *ChecksumVerifier {
	return &ChecksumVerifier{chunkSize: checksumChunkSize}
}

// Checksum returns the lowercase hex SHA-256 of the file at path
func (cv *ChecksumVerifier) Checksum(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksum: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, cv.chunkSize)
	reader := &contextReader{ctx: ctx, r: file}

	if _, err := io.CopyBuffer(hasher, reader, buf); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyIntegrity recomputes the checksum of path and compares it with expected.
// A read failure is returned as an error; a mismatch is reported as false.
func (cv *ChecksumVerifier) VerifyIntegrity(ctx context.Context, path, expected string) (bool, string, error) {
	actual, err := cv.Checksum(ctx, path)
	if err != nil {
		return false, "", err
	}
	return ChecksumsEqual(actual, expected), actual, nil
}

// ChecksumsEqual compares two hex digests case-insensitively in constant time
func ChecksumsEqual(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if len(a) != sha256.Size*2 || len(b) != sha256.Size*2 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// contextReader aborts long reads once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
