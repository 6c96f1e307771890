package expense

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Staging holds uploaded receipt images for the duration of one ingestion
type Staging interface {
	// Stage writes data under name and returns the key to read or release it
	Stage(name string, data []byte) (string, error)

	// Load reads a staged file back fully
	Load(key string) ([]byte, error)

	// Release removes a staged file
	Release(key string) error
}

// DiskStaging implements Staging on a local directory
type DiskStaging struct {
	basePath string
}

// NewDiskStaging creates the staging directory if needed
func NewDiskStaging(basePath string) (*DiskStaging, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &DiskStaging{basePath: basePath}, nil
}

// Stage writes the file; O_EXCL makes a name collision an error instead of an overwrite
func (d *DiskStaging) Stage(name string, data []byte) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid staging name %q", name)
	}
	f, err := os.OpenFile(filepath.Join(d.basePath, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing file: %w", err)
	}
	return name, nil
}

// Load reads a staged file
func (d *DiskStaging) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.basePath, key))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Release deletes a staged file
func (d *DiskStaging) Release(key string) error {
	if err := os.Remove(filepath.Join(d.basePath, key)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Sweep removes staged files last modified more than maxAge before now. These
// are left behind when the process stops in the middle of an ingestion.
func (d *DiskStaging) Sweep(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("inspecting %s: %w", entry.Name(), err))
			}
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(d.basePath, entry.Name())); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("deleting %s: %w", entry.Name(), err))
			}
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// RunSweeper sweeps once, then every interval until ctx is done
func (d *DiskStaging) RunSweeper(ctx context.Context, clock TimeSource, interval, maxAge time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", interval)
	}

	sweep := func() {
		removed, err := d.Sweep(clock.Now(), maxAge)
		if err != nil {
			slog.WarnContext(ctx, "Failed to sweep staging directory", "path", d.basePath, "error", err)
		}
		if removed > 0 {
			slog.InfoContext(ctx, "Removed abandoned staged receipts", "count", removed)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep()
		}
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
	safeExtension       = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)
)

// sanitizeFilename strips special characters and truncates long phone-generated names
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_ ")

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if !safeExtension.MatchString(ext) {
		ext = ""
	}

	return base + ext
}
