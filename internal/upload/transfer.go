package upload

import "time"

// FileTransfer is the per-file state of one upload. It is owned by the goroutine
// receiving that file and is never shared.
type FileTransfer struct {
	Filename       string
	Path           string
	BytesProcessed int64
	LastEmissionAt time.Time
	Emissions      int
}

func newFileTransfer(filename, path string) *FileTransfer {
	return &FileTransfer{Filename: filename, Path: path}
}
