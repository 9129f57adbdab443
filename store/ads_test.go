package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/livecast/ad-transcoder/clients"
)

func TestMarkReadyWritesArtifactsAndClearsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE ads SET transcode_status=.+error_message=NULL.+WHERE id=.+").
		WithArgs("ad-1", "READY", sqlmock.AnyArg(), "https://cdn.example.com/ads/ad-1/master.m3u8", 30.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewAdStoreWithDB(db)
	err = s.MarkReady(context.Background(), "ad-1", &clients.TranscodeResult{
		Variants: []clients.Variant{
			{Bitrate: 1000, PlaylistURL: "https://cdn.example.com/ads/ad-1/1000.m3u8"},
			{Bitrate: 2000, PlaylistURL: "https://cdn.example.com/ads/ad-1/2000.m3u8"},
		},
		MasterPlaylistURL: "https://cdn.example.com/ads/ad-1/master.m3u8",
		DurationSec:       30,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkErrorWritesMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE ads SET transcode_status=.+WHERE id=.+").
		WithArgs("ad-9", "ERROR", "Assembly failed: disk full").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewAdStoreWithDB(db)
	require.NoError(t, s.MarkError(context.Background(), "ad-9", "Assembly failed: disk full"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOfMissingRecordErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE ads SET transcode_status=.+").
		WithArgs("nope", "PROCESSING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewAdStoreWithDB(db)
	err = s.MarkProcessing(context.Background(), "nope")
	require.ErrorContains(t, err, "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}
