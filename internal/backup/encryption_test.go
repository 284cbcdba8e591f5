package backup

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRandomFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path, data
}

func TestEncryptionManager_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		config    EncryptionConfig
		size      int
		chunks    int
		kdfMethod string
	}{
		{"empty input", EncryptionConfig{Key: testKeyHex}, 0, 1, "raw"},
		{"single chunk", EncryptionConfig{Key: testKeyHex}, 1000, 1, "raw"},
		{"exact chunk multiple", EncryptionConfig{Key: testKeyHex, ChunkSize: 64}, 256, 4, "raw"},
		{"many chunks", EncryptionConfig{Key: testKeyHex, ChunkSize: 64}, 1000, 16, "raw"},
		{"passphrase", EncryptionConfig{Passphrase: "correct horse battery staple", ChunkSize: 128}, 1000, 8, "pbkdf2-sha256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			config := tt.config
			em := NewEncryptionManager(&config)
			src, data := writeRandomFile(t, tt.size)

			dst, stats, err := em.EncryptFile(ctx, src)
			require.NoError(t, err)
			assert.Equal(t, src+".enc", dst)
			assert.Equal(t, tt.chunks, stats.Chunks)
			assert.Equal(t, tt.kdfMethod, stats.KeyDerivation)
			assert.Equal(t, "AES-256-GCM", stats.Algorithm)

			sealed, err := os.ReadFile(dst)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(sealed, []byte(encryptionMagic)))

			out := filepath.Join(t.TempDir(), "plain.sql")
			require.NoError(t, em.DecryptFile(ctx, dst, out))

			restored, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, restored))
		})
	}
}

func TestEncryptionManager_DecryptFile_Rejects(t *testing.T) {
	ctx := context.Background()
	config := EncryptionConfig{Key: testKeyHex, ChunkSize: 64}
	em := NewEncryptionManager(&config)

	src, _ := writeRandomFile(t, 500)
	dst, _, err := em.EncryptFile(ctx, src)
	require.NoError(t, err)
	sealed, err := os.ReadFile(dst)
	require.NoError(t, err)

	chunk := 64 + 16

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		manager *EncryptionManager
	}{
		{
			name: "flipped ciphertext byte",
			mutate: func(b []byte) []byte {
				b[encryptionHeader+10] ^= 0xff
				return b
			},
		},
		{
			name: "flipped header byte",
			mutate: func(b []byte) []byte {
				b[len(encryptionMagic)+3] ^= 0xff
				return b
			},
		},
		{
			name: "final chunk dropped",
			mutate: func(b []byte) []byte {
				return b[:encryptionHeader+chunk*7]
			},
		},
		{
			name: "chunks swapped",
			mutate: func(b []byte) []byte {
				first := append([]byte(nil), b[encryptionHeader:encryptionHeader+chunk]...)
				copy(b[encryptionHeader:], b[encryptionHeader+chunk:encryptionHeader+2*chunk])
				copy(b[encryptionHeader+chunk:], first)
				return b
			},
		},
		{
			name:   "header only",
			mutate: func(b []byte) []byte { return b[:10] },
		},
		{
			name:   "wrong key",
			mutate: func(b []byte) []byte { return b },
			manager: NewEncryptionManager(&EncryptionConfig{
				Key: strings.Repeat("cd", 32),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := filepath.Join(t.TempDir(), "artifact.sql.enc")
			require.NoError(t, os.WriteFile(tampered, tt.mutate(append([]byte(nil), sealed...)), 0600))

			manager := em
			if tt.manager != nil {
				manager = tt.manager
			}

			out := filepath.Join(t.TempDir(), "plain.sql")
			err := manager.DecryptFile(ctx, tampered, out)
			assert.True(t, IsType(err, BackupErrorTypeCorruption), "got %v", err)
			assert.NoFileExists(t, out)
			assert.NoFileExists(t, out+extTemp)
		})
	}
}

func TestEncryptionManager_CheckKey(t *testing.T) {
	dir := t.TempDir()
	rawKeyFile := filepath.Join(dir, "raw.key")
	require.NoError(t, os.WriteFile(rawKeyFile, bytes.Repeat([]byte{7}, 32), 0600))

	t.Setenv("OMNICRM_TEST_BACKUP_KEY", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32)))

	tests := []struct {
		name    string
		config  EncryptionConfig
		wantErr bool
	}{
		{"nothing configured", EncryptionConfig{}, true},
		{"hex key", EncryptionConfig{Key: testKeyHex}, false},
		{"short key", EncryptionConfig{Key: "abcd"}, true},
		{"raw key file", EncryptionConfig{KeyFile: rawKeyFile}, false},
		{"missing key file", EncryptionConfig{KeyFile: filepath.Join(dir, "absent.key")}, true},
		{"base64 env var", EncryptionConfig{KeyEnvVar: "OMNICRM_TEST_BACKUP_KEY"}, false},
		{"unset env var", EncryptionConfig{KeyEnvVar: "OMNICRM_TEST_UNSET_KEY"}, true},
		{"passphrase", EncryptionConfig{Passphrase: "secret"}, false},
		{"retriever", EncryptionConfig{KeyRetriever: func() ([]byte, error) { return make([]byte, 32), nil }}, false},
		{"retriever short key", EncryptionConfig{KeyRetriever: func() ([]byte, error) { return make([]byte, 16), nil }}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.config
			err := NewEncryptionManager(&config).CheckKey()
			if tt.wantErr {
				assert.True(t, IsType(err, BackupErrorTypeEncryptionKey), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEncryptionManager_MissingKeyOnDecrypt(t *testing.T) {
	ctx := context.Background()
	config := EncryptionConfig{Key: testKeyHex}
	src, _ := writeRandomFile(t, 100)
	dst, _, err := NewEncryptionManager(&config).EncryptFile(ctx, src)
	require.NoError(t, err)

	err = NewEncryptionManager(&EncryptionConfig{}).DecryptFile(ctx, dst, filepath.Join(t.TempDir(), "out"))
	assert.True(t, IsType(err, BackupErrorTypeEncryptionKey))
}

func TestKeyManager_SaveKeyToFile(t *testing.T) {
	km := NewKeyManager(&EncryptionConfig{})

	key, err := km.GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, 32)

	path := filepath.Join(t.TempDir(), "backup.key")
	require.NoError(t, km.SaveKeyToFile(key, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := NewKeyManager(&EncryptionConfig{KeyFile: path}).rawKey()
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	assert.Error(t, km.SaveKeyToFile(key[:16], path))
}
