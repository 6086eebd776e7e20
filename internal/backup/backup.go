// Package backup snapshots the registry database, encrypts the snapshot and
// stores it in S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dukerupert/registry/internal/config"
	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/store"
)

var (
	ErrDisabled   = errors.New("backup not configured")
	ErrInProgress = errors.New("backup already running")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// Manager runs encrypted backups to S3-compatible storage.
type Manager struct {
	mu     sync.RWMutex
	cfg    config.BackupConfig
	status Status

	db     *sql.DB
	store  *store.BackupStore
	client s3Client
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a backup manager. Without bucket credentials and a
// passphrase it stays disabled.
func NewManager(cfg config.BackupConfig, db *sql.DB, logger *slog.Logger) *Manager {
	var client s3Client
	if cfg.Enabled() {
		client = newS3Client(cfg.S3)
	}
	return newManager(cfg, db, client, logger)
}

func newManager(cfg config.BackupConfig, db *sql.DB, client s3Client, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		db:     db,
		store:  store.NewBackupStore(db),
		client: client,
		logger: logger.With("component", "backup"),
		now:    time.Now,
		status: Status{State: StateDisabled},
	}
	if client != nil && cfg.Passphrase != "" {
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether backups can run.
func (m *Manager) Enabled() bool {
	return m.Status().State != StateDisabled
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
	}
	m.status = s
	m.mu.Unlock()
}

// List returns the most recent backup records.
func (m *Manager) List(ctx context.Context, limit int) ([]model.Backup, error) {
	return m.store.List(ctx, limit)
}

// RunNow snapshots, encrypts and uploads the database.
func (m *Manager) RunNow(ctx context.Context) (*model.Backup, error) {
	m.mu.Lock()
	switch {
	case m.status.State == StateDisabled:
		m.mu.Unlock()
		return nil, ErrDisabled
	case m.status.InProgress:
		m.mu.Unlock()
		return nil, ErrInProgress
	}
	m.status = Status{State: StateRunning, InProgress: true, LastBackup: m.status.LastBackup}
	m.mu.Unlock()

	record, err := m.run(ctx)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		m.logger.Error("backup failed", "error", err)
		return nil, err
	}
	m.setStatus(Status{State: StateIdle, LastBackup: record.CompletedAt})
	m.logger.Info("backup completed", "id", record.ID, "key", record.S3Key, "bytes", record.SizeBytes)
	return record, nil
}

func (m *Manager) run(ctx context.Context) (*model.Backup, error) {
	timestamp := m.now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("registry-%s-%s.db.enc", timestamp, uuid.NewString()[:8])
	s3Key := "registry/" + filename

	record, err := m.store.Create(ctx, filename, s3Key)
	if err != nil {
		return nil, fmt.Errorf("create backup record: %w", err)
	}
	fail := func(err error) (*model.Backup, error) {
		if uerr := m.store.UpdateStatus(ctx, record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("record backup failure", "id", record.ID, "error", uerr)
		}
		return nil, err
	}

	snapshot, err := m.snapshot(ctx)
	if err != nil {
		return fail(err)
	}
	sealed, err := Seal(snapshot, m.cfg.Passphrase)
	if err != nil {
		return fail(fmt.Errorf("encrypt: %w", err))
	}

	if err := m.store.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, ""); err != nil {
		return fail(err)
	}
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(s3Key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	if err := m.store.UpdateCompleted(ctx, record.ID, int64(len(sealed))); err != nil {
		return nil, err
	}
	return m.store.GetByID(ctx, record.ID)
}

// snapshot writes a consistent copy of the database with VACUUM INTO and
// returns its bytes.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "registry-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("vacuum into snapshot: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Download streams an encrypted backup from S3.
func (m *Manager) Download(ctx context.Context, backupID int64) (io.ReadCloser, *model.Backup, error) {
	if !m.Enabled() {
		return nil, nil, ErrDisabled
	}
	record, err := m.store.GetByID(ctx, backupID)
	if err != nil {
		return nil, nil, err
	}
	if !record.Downloadable() {
		return nil, nil, fmt.Errorf("backup %d is %s: %w", backupID, record.Status, model.ErrNotFound)
	}
	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("download from s3: %w", err)
	}
	return result.Body, record, nil
}

// Cleanup deletes backups older than the retention period and returns how
// many were removed. Objects that fail to delete are logged and left behind.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if !m.Enabled() {
		return 0, nil
	}
	before := m.now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.store.DeleteOlderThan(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("delete old backups: %w", err)
	}
	for _, key := range keys {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete backup object", "key", key, "error", err)
		}
	}
	return len(keys), nil
}

// Scheduled is the cron entry point: back up, then apply retention.
func (m *Manager) Scheduled(ctx context.Context) error {
	if _, err := m.RunNow(ctx); err != nil {
		return err
	}
	n, err := m.Cleanup(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("expired backups removed", "count", n)
	}
	return nil
}
