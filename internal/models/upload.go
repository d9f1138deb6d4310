package models

import "time"

type UploadStatus string

const (
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// Upload is the ledger record of one received file.
type Upload struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	FileName   string       `json:"file_name"`
	StoredPath string       `json:"stored_path"`
	Size       int64        `json:"size"`
	Status     UploadStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt time.Time    `json:"finished_at"`
}
