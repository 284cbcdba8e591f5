package backup

import (
	"bufio"
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Artifact format written by EncryptFile:
//
//	magic "OCBENC01" | kdf (1) | salt (16) | nonce prefix (7) | chunk size (4, big endian)
//	chunk 0 | chunk 1 | ... | final chunk
//
// Each chunk is AES-256-GCM sealed under nonce prefix||counter||final-flag with
// the header as additional data, so reordered, truncated or extended files fail
// to open.
const (
	encryptionMagic  = "OCBENC01"
	encryptionHeader = len(encryptionMagic) + 1 + saltSize + noncePrefixSize + 4

	kdfRawKey byte = 0
	kdfPBKDF2 byte = 1

	keySize          = 32
	saltSize         = 16
	noncePrefixSize  = 7
	pbkdf2Iterations = 100000

	DefaultEncryptionChunkSize = 64 * 1024
	maxEncryptionChunkSize     = 16 * 1024 * 1024
)

// EncryptionStats contains statistics about encryption operations
type EncryptionStats struct {
	OriginalSize  int64         `json:"original_size"`
	EncryptedSize int64         `json:"encrypted_size"`
	Algorithm     string        `json:"algorithm"`
	KeyDerivation string        `json:"key_derivation"`
	Chunks        int           `json:"chunks"`
	Duration      time.Duration `json:"duration"`
}

// EncryptionManager applies and reverses the encryption stage of the pipeline.
// Losing the key makes every artifact it sealed permanently unrecoverable;
// keeping and rotating keys is the operator's job.
type EncryptionManager struct {
	keys      *KeyManager
	chunkSize int
}

// NewEncryptionManager creates a new encryption manager
func NewEncryptionManager(config *EncryptionConfig) *EncryptionManager {
	chunkSize := config.ChunkSize
	if chunkSize <= 0 || chunkSize > maxEncryptionChunkSize {
		chunkSize = DefaultEncryptionChunkSize
	}
	return &EncryptionManager{
		keys:      NewKeyManager(config),
		chunkSize: chunkSize,
	}
}

// CheckKey fails with an EncryptionKeyError when no usable key is configured.
// The orchestrator calls it before exporting so a missing key never leaves
// files behind.
func (em *EncryptionManager) CheckKey() error {
	_, _, _, err := em.keys.keyForEncryption()
	return err
}

// GetAlgorithm returns the encryption algorithm being used
func (em *EncryptionManager) GetAlgorithm() string {
	return "AES-256-GCM"
}

// EncryptFile seals src into src+".enc" and returns that path. src is left in place.
func (em *EncryptionManager) EncryptFile(ctx context.Context, src string) (string, *EncryptionStats, error) {
	start := time.Now()

	key, kdf, salt, err := em.keys.keyForEncryption()
	if err != nil {
		return "", nil, err
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", nil, NewEncryptionError("failed to initialise AES-GCM", err)
	}

	noncePrefix := make([]byte, noncePrefixSize)
	if _, err := io.ReadFull(rand.Reader, noncePrefix); err != nil {
		return "", nil, NewEncryptionError("failed to generate nonce", err)
	}

	header := buildEncryptionHeader(kdf, salt, noncePrefix, uint32(em.chunkSize))
	dst := src + extEncrypted
	chunks := 0

	written, err := writeFileAtomically(dst, func(out io.Writer) error {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()

		if _, err := out.Write(header); err != nil {
			return err
		}

		reader := bufio.NewReaderSize(&contextReader{ctx: ctx, r: in}, em.chunkSize)
		plain := make([]byte, em.chunkSize)
		sealed := make([]byte, 0, em.chunkSize+aead.Overhead())

		for counter := uint32(0); ; counter++ {
			n, final, err := readChunk(reader, plain)
			if err != nil {
				return err
			}

			sealed = aead.Seal(sealed[:0], chunkNonce(noncePrefix, counter, final), plain[:n], header)
			if _, err := out.Write(sealed); err != nil {
				return err
			}
			chunks++

			if final {
				return nil
			}
			if counter == ^uint32(0) {
				return errors.New("artifact exceeds the maximum number of encrypted chunks")
			}
		}
	})
	if err != nil {
		return "", nil, NewEncryptionError(fmt.Sprintf("failed to encrypt %s", src), err)
	}

	original, err := fileSize(src)
	if err != nil {
		os.Remove(dst)
		return "", nil, NewEncryptionError("failed to stat encryption input", err)
	}

	derivation := "raw"
	if kdf == kdfPBKDF2 {
		derivation = "pbkdf2-sha256"
	}

	return dst, &EncryptionStats{
		OriginalSize:  original,
		EncryptedSize: written,
		Algorithm:     em.GetAlgorithm(),
		KeyDerivation: derivation,
		Chunks:        chunks,
		Duration:      time.Since(start),
	}, nil
}

// DecryptFile opens an artifact written by EncryptFile into dst. Any
// authentication failure is reported as a CorruptionError and leaves no
// output behind.
func (em *EncryptionManager) DecryptFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return NewEncryptionError(fmt.Sprintf("failed to open %s", src), err)
	}
	defer in.Close()

	header := make([]byte, encryptionHeader)
	if _, err := io.ReadFull(in, header); err != nil {
		return NewCorruptionError(fmt.Sprintf("%s is too short to be an encrypted artifact", src), err)
	}
	kdf, salt, noncePrefix, chunkSize, err := parseEncryptionHeader(header)
	if err != nil {
		return NewCorruptionError(fmt.Sprintf("%s has an invalid encryption header", src), err)
	}

	key, err := em.keys.keyForDecryption(kdf, salt)
	if err != nil {
		return err
	}
	aead, err := newGCM(key)
	if err != nil {
		return NewEncryptionError("failed to initialise AES-GCM", err)
	}

	var authErr error
	_, err = writeFileAtomically(dst, func(out io.Writer) error {
		reader := bufio.NewReaderSize(&contextReader{ctx: ctx, r: in}, int(chunkSize)+aead.Overhead())
		sealed := make([]byte, int(chunkSize)+aead.Overhead())
		plain := make([]byte, 0, chunkSize)

		for counter := uint32(0); ; counter++ {
			n, final, err := readChunk(reader, sealed)
			if err != nil {
				return err
			}
			if n < aead.Overhead() {
				authErr = errors.New("truncated chunk")
				return authErr
			}

			plain, err = aead.Open(plain[:0], chunkNonce(noncePrefix, counter, final), sealed[:n], header)
			if err != nil {
				authErr = fmt.Errorf("chunk %d failed authentication: %w", counter, err)
				return authErr
			}
			if _, err := out.Write(plain); err != nil {
				return err
			}
			if final {
				return nil
			}
		}
	})
	if err != nil {
		if authErr != nil {
			return NewCorruptionError(fmt.Sprintf("%s could not be authenticated (wrong key or tampered data)", src), authErr)
		}
		return NewEncryptionError(fmt.Sprintf("failed to decrypt %s", src), err)
	}
	return nil
}

// readChunk fills buf from r and reports whether this is the last chunk of
// the stream. An empty stream yields one empty final chunk.
func readChunk(r *bufio.Reader, buf []byte) (int, bool, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == io.EOF:
		return 0, true, nil
	case err == io.ErrUnexpectedEOF:
		return n, true, nil
	case err != nil:
		return 0, false, err
	}

	if _, err := r.Peek(1); err != nil {
		if err == io.EOF {
			return n, true, nil
		}
		return 0, false, err
	}
	return n, false, nil
}

func chunkNonce(prefix []byte, counter uint32, final bool) []byte {
	nonce := make([]byte, 12)
	copy(nonce, prefix)
	binary.BigEndian.PutUint32(nonce[noncePrefixSize:], counter)
	if final {
		nonce[11] = 1
	}
	return nonce
}

func buildEncryptionHeader(kdf byte, salt, noncePrefix []byte, chunkSize uint32) []byte {
	header := make([]byte, 0, encryptionHeader)
	header = append(header, encryptionMagic...)
	header = append(header, kdf)
	header = append(header, salt...)
	header = append(header, noncePrefix...)
	header = binary.BigEndian.AppendUint32(header, chunkSize)
	return header
}

func parseEncryptionHeader(header []byte) (kdf byte, salt, noncePrefix []byte, chunkSize uint32, err error) {
	if !bytes.HasPrefix(header, []byte(encryptionMagic)) {
		return 0, nil, nil, 0, errors.New("unrecognised magic")
	}
	offset := len(encryptionMagic)
	kdf = header[offset]
	offset++
	salt = header[offset : offset+saltSize]
	offset += saltSize
	noncePrefix = header[offset : offset+noncePrefixSize]
	offset += noncePrefixSize
	chunkSize = binary.BigEndian.Uint32(header[offset:])

	if kdf != kdfRawKey && kdf != kdfPBKDF2 {
		return 0, nil, nil, 0, fmt.Errorf("unknown key derivation %d", kdf)
	}
	if chunkSize == 0 || chunkSize > maxEncryptionChunkSize {
		return 0, nil, nil, 0, fmt.Errorf("chunk size %d out of range", chunkSize)
	}
	return kdf, salt, noncePrefix, chunkSize, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// KeyManager resolves the symmetric key from configuration
type KeyManager struct {
	config *EncryptionConfig
}

// NewKeyManager creates a new key manager
func NewKeyManager(config *EncryptionConfig) *KeyManager {
	return &KeyManager{
		config: config,
	}
}

// GenerateKey generates a new 256-bit encryption key
func (km *KeyManager) GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// DeriveKeyFromPassphrase derives a key from a passphrase using PBKDF2-SHA256
func (km *KeyManager) DeriveKeyFromPassphrase(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// SaveKeyToFile saves an encryption key to a file as hex with owner-only permissions
func (km *KeyManager) SaveKeyToFile(key []byte, path string) error {
	if len(key) != keySize {
		return NewEncryptionKeyError("key must be 32 bytes for AES-256", nil)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return NewEncryptionError("failed to save key to file", err)
	}
	return nil
}

// rawKey returns the directly configured key, or nil when only a passphrase
// (or nothing) is configured.
func (km *KeyManager) rawKey() ([]byte, error) {
	cfg := km.config

	if cfg.KeyRetriever != nil {
		key, err := cfg.KeyRetriever()
		if err != nil {
			return nil, NewEncryptionKeyError("key retriever failed", err)
		}
		if len(key) != keySize {
			return nil, NewEncryptionKeyError(fmt.Sprintf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key)), nil)
		}
		return key, nil
	}

	if cfg.Key != "" {
		return decodeKey(cfg.Key, "encryption.key")
	}

	if cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, NewEncryptionKeyError(fmt.Sprintf("failed to read encryption key from file %s", cfg.KeyFile), err)
		}
		if len(data) == keySize {
			return data, nil
		}
		return decodeKey(string(data), cfg.KeyFile)
	}

	if cfg.KeyEnvVar != "" {
		if value := os.Getenv(cfg.KeyEnvVar); value != "" {
			return decodeKey(value, cfg.KeyEnvVar)
		}
		if cfg.Passphrase == "" {
			return nil, NewEncryptionKeyError(fmt.Sprintf("encryption key not found in environment variable %s", cfg.KeyEnvVar), nil)
		}
	}

	return nil, nil
}

func (km *KeyManager) keyForEncryption() (key []byte, kdf byte, salt []byte, err error) {
	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, 0, nil, NewEncryptionError("failed to generate salt", err)
	}

	key, err = km.rawKey()
	if err != nil {
		return nil, 0, nil, err
	}
	if key != nil {
		return key, kdfRawKey, salt, nil
	}

	if km.config.Passphrase != "" {
		return km.DeriveKeyFromPassphrase(km.config.Passphrase, salt), kdfPBKDF2, salt, nil
	}

	return nil, 0, nil, NewEncryptionKeyError("encryption requested but no encryption key is configured", nil)
}

func (km *KeyManager) keyForDecryption(kdf byte, salt []byte) ([]byte, error) {
	if kdf == kdfPBKDF2 {
		if km.config.Passphrase == "" {
			return nil, NewEncryptionKeyError("artifact was sealed with a passphrase but none is configured", nil)
		}
		return km.DeriveKeyFromPassphrase(km.config.Passphrase, salt), nil
	}

	key, err := km.rawKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, NewEncryptionKeyError("artifact is encrypted but no encryption key is configured", nil)
	}
	return key, nil
}

// decodeKey accepts a 32-byte key written as hex or standard base64
func decodeKey(value, source string) ([]byte, error) {
	value = strings.TrimSpace(value)

	if key, err := hex.DecodeString(value); err == nil {
		if len(key) != keySize {
			return nil, NewEncryptionKeyError(fmt.Sprintf("%s: encryption key must be 32 bytes for AES-256, got %d bytes", source, len(key)), nil)
		}
		return key, nil
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if key, err := enc.DecodeString(value); err == nil {
			if len(key) != keySize {
				return nil, NewEncryptionKeyError(fmt.Sprintf("%s: encryption key must be 32 bytes for AES-256, got %d bytes", source, len(key)), nil)
			}
			return key, nil
		}
	}

	return nil, NewEncryptionKeyError(fmt.Sprintf("%s: encryption key is neither hex nor base64", source), nil)
}
