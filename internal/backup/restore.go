package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Restore verifies the stored artifact against its catalog checksum when
// requested, peels the transforms recorded in its name in reverse order
// inside a private work directory and hands the plain snapshot to the
// backend. The stored artifact is never modified.
func (m *Manager) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	ctx, done := m.logger.StartOperation(ctx, "restore", map[string]interface{}{
		"file":            req.File,
		"verify_checksum": req.VerifyChecksum,
		"backend":         m.backend.Name(),
	})

	start := time.Now()
	result, err := m.restore(ctx, req)
	m.metrics.ObserveRestore(err)

	if err != nil {
		done(err, nil)
		return nil, err
	}
	result.Duration = time.Since(start)
	done(nil, map[string]interface{}{
		"filename": result.Filename,
		"steps":    strings.Join(result.Steps, ","),
	})
	return result, nil
}

func (m *Manager) restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	path, err := m.resolveArtifact(req.File)
	if err != nil {
		return nil, err
	}
	name, err := ParseArtifactName(path)
	if err != nil {
		return nil, err
	}
	if name.BaseExt != m.backend.Extension() {
		return nil, NewRestoreError(fmt.Sprintf("%s holds a %s snapshot but the %s backend restores %s files",
			filepath.Base(path), name.BaseExt, m.backend.Name(), m.backend.Extension()), nil)
	}
	if name.IsEncrypted() {
		if err := m.encryption.CheckKey(); err != nil {
			return nil, err
		}
	}

	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &RestoreResult{
		Filename: filepath.Base(path),
		Backend:  m.backend.Name(),
		Steps:    []string{},
	}

	if req.VerifyChecksum {
		if err := m.verifyStored(ctx, path); err != nil {
			return nil, err
		}
		result.ChecksumVerified = true
		result.Steps = append(result.Steps, "verify_checksum")
	}

	workDir, err := os.MkdirTemp(m.dir, ".restore-")
	if err != nil {
		return nil, NewRestoreError("failed to create restore work directory", err)
	}
	defer os.RemoveAll(workDir)

	current := path
	// intermediate files inside workDir are dropped as soon as their successor exists
	advance := func(next string) {
		if current != path {
			os.Remove(current)
		}
		current = next
	}

	for i := len(name.Transforms) - 1; i >= 0; i-- {
		transform := name.Transforms[i]
		next := filepath.Join(workDir, strings.TrimSuffix(filepath.Base(current), transform))

		if transform == extEncrypted {
			if err := m.encryption.DecryptFile(ctx, current, next); err != nil {
				return nil, err
			}
			result.Steps = append(result.Steps, "decrypt")
		} else {
			if err := m.compression.DecompressFile(ctx, current, next); err != nil {
				return nil, err
			}
			algorithm, _ := compressionForExtension(transform)
			result.Steps = append(result.Steps, "decompress:"+string(algorithm))
		}
		advance(next)
	}

	if err := m.backend.Restore(ctx, current); err != nil {
		return nil, asBackupError(err, NewRestoreError)
	}
	result.Steps = append(result.Steps, "restore:"+m.backend.Name())
	result.Success = true
	result.RestoredAt = m.now().UTC()
	return result, nil
}

// resolveArtifact turns a catalog filename or a path into an existing file
func (m *Manager) resolveArtifact(file string) (string, error) {
	if strings.TrimSpace(file) == "" {
		return "", NewValidationError("an artifact filename is required", nil)
	}

	path := file
	if !strings.ContainsAny(file, `/\`) {
		path = filepath.Join(m.dir, file)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", NewValidationError(fmt.Sprintf("invalid artifact path %q", file), err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewNotFoundError(fmt.Sprintf("artifact %s does not exist", file), err)
		}
		return "", NewRestoreError(fmt.Sprintf("failed to stat %s", file), err)
	}
	if info.IsDir() {
		return "", NewValidationError(fmt.Sprintf("%s is a directory", file), nil)
	}
	return path, nil
}

// verifyStored compares the artifact as stored with its catalog checksum
func (m *Manager) verifyStored(ctx context.Context, path string) error {
	record, err := m.catalog.Find(ctx, filepath.Base(path))
	if err != nil {
		return err
	}

	valid, actual, err := m.checksums.VerifyIntegrity(ctx, path, record.ChecksumSHA256)
	if err != nil {
		return NewChecksumError(fmt.Sprintf("failed to checksum %s", record.Filename), err)
	}
	if !valid {
		return NewCorruptionError(fmt.Sprintf("checksum mismatch for %s", record.Filename), nil).
			WithContext("expected", record.ChecksumSHA256).
			WithContext("actual", actual)
	}
	return nil
}
