package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"uploadhub/internal/models"
)

// Ledger records every file the server received.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Record inserts one upload row.
func (l *Ledger) Record(ctx context.Context, u *models.Upload) error {
	var errText sql.NullString
	if u.Error != "" {
		errText = sql.NullString{String: u.Error, Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO uploads (id, session_id, file_name, stored_path, size, status, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.SessionID, u.FileName, u.StoredPath, u.Size, string(u.Status), errText,
		u.CreatedAt.UTC(), u.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert upload %s: %w", u.FileName, err)
	}
	return nil
}

// ListBySession returns the uploads of sessionID, oldest first.
func (l *Ledger) ListBySession(ctx context.Context, sessionID string) ([]*models.Upload, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, file_name, stored_path, size, status, error, created_at, finished_at
		FROM uploads WHERE session_id = ? ORDER BY finished_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return scanUploads(rows)
}

// Expired returns completed uploads that finished before cutoff. A row is only
// expired once no later upload wrote to the same stored path after cutoff.
func (l *Ledger) Expired(ctx context.Context, cutoff time.Time) ([]*models.Upload, error) {
	cutoff = cutoff.UTC()
	rows, err := l.db.QueryContext(ctx, `
		SELECT u.id, u.session_id, u.file_name, u.stored_path, u.size, u.status, u.error, u.created_at, u.finished_at
		FROM uploads u
		WHERE u.status = ? AND u.finished_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM uploads n
				WHERE n.stored_path = u.stored_path AND n.finished_at > ?
			)
		ORDER BY u.finished_at ASC`,
		string(models.UploadCompleted), cutoff, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired uploads: %w", err)
	}
	return scanUploads(rows)
}

// Delete removes the row with id.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete upload %s: %w", id, err)
	}
	return nil
}

func scanUploads(rows *sql.Rows) ([]*models.Upload, error) {
	defer rows.Close()
	var out []*models.Upload
	for rows.Next() {
		var (
			u       models.Upload
			status  string
			errText sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.SessionID, &u.FileName, &u.StoredPath, &u.Size, &status, &errText, &u.CreatedAt, &u.FinishedAt); err != nil {
			return nil, err
		}
		u.Status = models.UploadStatus(status)
		u.Error = errText.String
		out = append(out, &u)
	}
	return out, rows.Err()
}
