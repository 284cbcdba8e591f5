package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// DefaultCatalogFile is the catalog's name inside the backup directory
const DefaultCatalogFile = "backup_history.json"

// Catalog is the durable, ordered list of completed backups stored as a JSON
// array. Every mutation is a locked read-modify-write followed by an atomic
// rename, so readers never see a half-written file and concurrent writers
// never lose each other's updates.
type Catalog struct {
	path string
	lock *FileLock
}

// NewCatalog creates a catalog stored at path
func NewCatalog(path string) *Catalog {
	return &Catalog{
		path: path,
		lock: NewFileLock(path + ".lock"),
	}
}

// Path returns the catalog file location
func (c *Catalog) Path() string {
	return c.path
}

// Append adds record to the end of the catalog. Filenames are unique.
func (c *Catalog) Append(ctx context.Context, record BackupRecord) error {
	return c.update(ctx, func(records []BackupRecord) ([]BackupRecord, error) {
		for _, existing := range records {
			if existing.Filename == record.Filename {
				return nil, NewCatalogError(fmt.Sprintf("catalog already holds %s", record.Filename), nil)
			}
		}
		return append(records, record), nil
	})
}

// List returns every record in creation order
func (c *Catalog) List(ctx context.Context) ([]BackupRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.load()
}

// Find returns the record for filename
func (c *Catalog) Find(ctx context.Context, filename string) (*BackupRecord, error) {
	records, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Filename == filename {
			return &records[i], nil
		}
	}
	return nil, NewNotFoundError(fmt.Sprintf("no catalog record for %s", filename), nil)
}

// Remove drops every record matching drop and returns the dropped records
func (c *Catalog) Remove(ctx context.Context, drop func(BackupRecord) bool) ([]BackupRecord, error) {
	var removed []BackupRecord
	err := c.update(ctx, func(records []BackupRecord) ([]BackupRecord, error) {
		kept := records[:0]
		for _, record := range records {
			if drop(record) {
				removed = append(removed, record)
				continue
			}
			kept = append(kept, record)
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (c *Catalog) update(ctx context.Context, mutate func([]BackupRecord) ([]BackupRecord, error)) error {
	release, err := c.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	records, err := c.load()
	if err != nil {
		return err
	}
	records, err = mutate(records)
	if err != nil {
		return err
	}
	return c.save(records)
}

func (c *Catalog) load() ([]BackupRecord, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return []BackupRecord{}, nil
	}
	if err != nil {
		return nil, NewCatalogError("failed to read catalog", err)
	}
	if len(data) == 0 {
		return []BackupRecord{}, nil
	}

	var records []BackupRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, NewCatalogError(fmt.Sprintf("catalog %s is not a JSON array of records", c.path), err)
	}
	if records == nil {
		records = []BackupRecord{}
	}
	return records, nil
}

func (c *Catalog) save(records []BackupRecord) error {
	if records == nil {
		records = []BackupRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return NewCatalogError("failed to encode catalog", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return NewCatalogError("failed to create catalog directory", err)
	}
	_, err = writeFileAtomically(c.path, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
	if err != nil {
		return NewCatalogError("failed to write catalog", err)
	}
	return nil
}
