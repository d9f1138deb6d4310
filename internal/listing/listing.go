package listing

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"uploadhub/internal/models"
)

const lastModifiedLayout = "2006-01-02T15:04:05.000Z07:00"

// FilesStatus describes every regular file directly inside dir, sorted by name.
func FilesStatus(dir string) ([]models.FileStatus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	owner := currentOwner()
	out := make([]models.FileStatus, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				// removed between ReadDir and Info
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", filepath.Join(dir, entry.Name()), err)
		}
		out = append(out, models.FileStatus{
			Size:         humanize.Bytes(uint64(info.Size())),
			LastModified: info.ModTime().UTC().Truncate(time.Millisecond).Format(lastModifiedLayout),
			Owner:        owner,
			File:         entry.Name(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

func currentOwner() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
