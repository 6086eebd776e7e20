package model

import "time"

type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusUploading BackupStatus = "uploading"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
)

// Backup records one encrypted registry snapshot. A row is created before the
// upload starts so failed runs stay visible in the history.
type Backup struct {
	ID           int64        `json:"id"`
	Filename     string       `json:"filename"`
	S3Key        string       `json:"s3_key"`
	SizeBytes    int64        `json:"size_bytes"`
	Status       BackupStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Finished reports whether the backup reached a terminal state.
func (b *Backup) Finished() bool {
	return b.Status == BackupStatusCompleted || b.Status == BackupStatusFailed
}

// Downloadable reports whether the object was fully uploaded.
func (b *Backup) Downloadable() bool {
	return b.Status == BackupStatusCompleted && b.S3Key != ""
}

// Duration is the wall time from start to completion, zero while running.
func (b *Backup) Duration() time.Duration {
	if b.StartedAt == nil || b.CompletedAt == nil {
		return 0
	}
	return b.CompletedAt.Sub(*b.StartedAt)
}
