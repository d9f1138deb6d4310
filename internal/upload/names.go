package upload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
)

type PartialPolicy string

const (
	PartialRemove PartialPolicy = "remove"
	PartialKeep   PartialPolicy = "keep"
)

const maxRenameAttempts = 1000

// ErrUnsafeFilename is returned for names that could escape the destination directory.
var ErrUnsafeFilename = errors.New("unsafe filename")

// CheckFilename rejects names that are empty, dot segments or contain a path separator.
func CheckFilename(name string) error {
	switch name {
	case "", ".", "..":
		return fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	return nil
}

// createDestination opens the target file for name inside dir following policy.
// It returns the open file and its path.
func createDestination(dir, name string, policy CollisionPolicy) (*os.File, string, error) {
	if policy != CollisionRename {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
		return f, path, nil
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for idx := 1; idx <= maxRenameAttempts+1; idx++ {
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, idx, ext)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("create %s: %w", path, err)
	}
	return f, path, nil
}
