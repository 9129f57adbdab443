// Package store is the adapter to the ad record database. Handlers are the
// only writers; each write is one UPDATE by primary key and the record is the
// sole durable signal of a job's outcome.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/livecast/ad-transcoder/clients"
)

type TranscodeStatus string

const (
	TranscodeStatusQueued     TranscodeStatus = "QUEUED"
	TranscodeStatusProcessing TranscodeStatus = "PROCESSING"
	TranscodeStatusReady      TranscodeStatus = "READY"
	TranscodeStatusError      TranscodeStatus = "ERROR"
)

// AdStore writes transcode outcomes onto ad records.
type AdStore interface {
	MarkProcessing(ctx context.Context, adID string) error
	// MarkReady writes the terminal success state: variants, master playlist
	// and duration, clearing any error from earlier attempts.
	MarkReady(ctx context.Context, adID string, result *clients.TranscodeResult) error
	MarkError(ctx context.Context, adID string, errorMessage string) error
	// MarkQueued returns the record to QUEUED ahead of a scheduled retry,
	// recording the attempt's error for diagnosis.
	MarkQueued(ctx context.Context, adID string, errorMessage string) error
}

type postgresAdStore struct {
	db *sql.DB
}

func NewAdStore(connectionString string) (AdStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("error opening ads database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to ads database: %w", err)
	}
	return &postgresAdStore{db: db}, nil
}

// NewAdStoreWithDB is used by tests to inject a mocked *sql.DB.
func NewAdStoreWithDB(db *sql.DB) AdStore {
	return &postgresAdStore{db: db}
}

func (s *postgresAdStore) MarkProcessing(ctx context.Context, adID string) error {
	return s.exec(ctx, adID,
		"UPDATE ads SET transcode_status=$2, updated_at=now() WHERE id=$1",
		adID, string(TranscodeStatusProcessing))
}

func (s *postgresAdStore) MarkReady(ctx context.Context, adID string, result *clients.TranscodeResult) error {
	variants, err := json.Marshal(result.Variants)
	if err != nil {
		return fmt.Errorf("error marshaling variants for ad %q: %w", adID, err)
	}
	return s.exec(ctx, adID,
		"UPDATE ads SET transcode_status=$2, variants=$3, master_playlist_url=$4, duration=$5, error_message=NULL, updated_at=now() WHERE id=$1",
		adID, string(TranscodeStatusReady), variants, result.MasterPlaylistURL, result.DurationSec)
}

func (s *postgresAdStore) MarkError(ctx context.Context, adID string, errorMessage string) error {
	return s.exec(ctx, adID,
		"UPDATE ads SET transcode_status=$2, error_message=$3, updated_at=now() WHERE id=$1",
		adID, string(TranscodeStatusError), errorMessage)
}

func (s *postgresAdStore) MarkQueued(ctx context.Context, adID string, errorMessage string) error {
	return s.exec(ctx, adID,
		"UPDATE ads SET transcode_status=$2, error_message=$3, updated_at=now() WHERE id=$1",
		adID, string(TranscodeStatusQueued), errorMessage)
}

func (s *postgresAdStore) exec(ctx context.Context, adID, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating ad record %q: %w", adID, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("ad record %q not found", adID)
	}
	return nil
}
