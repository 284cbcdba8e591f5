package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumVerifier_Checksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0600))

	sum, err := NewChecksumVerifier().Checksum(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

func TestChecksumVerifier_VerifyIntegrity(t *testing.T) {
	ctx := context.Background()
	cv := NewChecksumVerifier()
	path := filepath.Join(t.TempDir(), "artifact.bin")
	data := []byte(strings.Repeat("omnicrm", 5000))
	require.NoError(t, os.WriteFile(path, data, 0600))

	expected, err := cv.Checksum(ctx, path)
	require.NoError(t, err)

	valid, actual, err := cv.VerifyIntegrity(ctx, path, expected)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, expected, actual)

	for _, offset := range []int{0, len(data) / 2, len(data) - 1} {
		flipped := append([]byte(nil), data...)
		flipped[offset] ^= 0x01
		require.NoError(t, os.WriteFile(path, flipped, 0600))

		valid, _, err := cv.VerifyIntegrity(ctx, path, expected)
		require.NoError(t, err)
		assert.False(t, valid, "flipping byte %d must be detected", offset)
	}

	_, _, err = cv.VerifyIntegrity(ctx, filepath.Join(t.TempDir(), "missing"), expected)
	assert.Error(t, err)
}

func TestChecksumVerifier_Canceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChecksumVerifier().Checksum(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChecksumsEqual(t *testing.T) {
	sum := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", sum, sum, true},
		{"case insensitive", strings.ToUpper(sum), sum, true},
		{"surrounding whitespace", " " + sum + "\n", sum, true},
		{"different", sum, strings.Replace(sum, "b", "c", 1), false},
		{"truncated", sum[:10], sum[:10], false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChecksumsEqual(tt.a, tt.b))
		})
	}
}
