package backup

import (
	"io"
	"os"
	"path/filepath"
)

// countingWriter tracks how many bytes reached the underlying writer
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// writeFileAtomically runs fill against a temporary sibling of dst, fsyncs it
// and renames it into place. Any failure, including cancellation inside fill,
// removes the temporary file so no partial output survives.
func writeFileAtomically(dst string, fill func(w io.Writer) error) (written int64, err error) {
	tmp := dst + extTemp
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, err
	}

	defer func() {
		if err != nil {
			file.Close()
			os.Remove(tmp)
		}
	}()

	counter := &countingWriter{w: file}
	if err = fill(counter); err != nil {
		return 0, err
	}
	if err = file.Sync(); err != nil {
		return 0, err
	}
	if err = file.Close(); err != nil {
		return 0, err
	}
	if err = os.Rename(tmp, dst); err != nil {
		return 0, err
	}
	syncDir(filepath.Dir(dst))

	return counter.n, nil
}

// syncDir flushes a directory entry after a rename. Errors are ignored since
// some filesystems do not support fsync on directories.
func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func fileExtension(path string) string {
	return filepath.Ext(path)
}

// removeFiles deletes every path, ignoring files that are already gone
func removeFiles(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		os.Remove(p)
		os.Remove(p + extTemp)
	}
}
