package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

func TestInsertWritesSuccessRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "document_fetches")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	size := int64(2048)
	path := "/out/documents/abc_a.pdf"
	digest := "deadbeef"
	rec := crawler.MetadataRecord{
		RunID:         "run-1",
		DocumentURL:   "https://example.com/a.pdf",
		SourceURL:     "https://example.com/",
		Outcome:       crawler.OutcomeSuccess,
		LocalPath:     path,
		ByteSize:      &size,
		ContentSHA256: digest,
		CompletedAt:   now,
	}

	mock.ExpectExec("INSERT INTO document_fetches").
		WithArgs(
			rec.RunID,
			rec.DocumentURL,
			rec.SourceURL,
			"success",
			&path,
			&size,
			&digest,
			(*string)(nil),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWritesFailureRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "document_fetches", store.Table())

	now := time.Unix(1700000000, 0).UTC()
	reason := string(crawler.ReasonPermanentFetch)
	rec := crawler.MetadataRecord{
		RunID:         "run-1",
		DocumentURL:   "https://example.com/missing.pdf",
		SourceURL:     "https://example.com/",
		Outcome:       crawler.OutcomeFailed,
		FailureReason: crawler.ReasonPermanentFetch,
		CompletedAt:   now,
	}

	mock.ExpectExec("INSERT INTO document_fetches").
		WithArgs(
			rec.RunID,
			rec.DocumentURL,
			rec.SourceURL,
			"failed",
			(*string)(nil),
			(*int64)(nil),
			(*string)(nil),
			&reason,
			now,
		).
		WillReturnError(errors.New("connection refused"))

	err = store.Insert(context.Background(), rec)
	require.ErrorContains(t, err, "insert metadata")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "docs")
	require.NoError(t, err)

	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS docs ").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS docs_runs").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("INSERT INTO docs_runs").
		WithArgs("run-1", start, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE docs_runs").
		WithArgs("run-1", end, "completed", int64(4), int64(2), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE docs_runs").
		WithArgs("run-2", end, "completed", int64(0), int64(0), int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.StartRun(ctx, "run-1", start))
	require.NoError(t, store.FinishRun(ctx, "run-1", end, "completed", RunTotals{PagesVisited: 4, DocumentsSucceeded: 2, DocumentsFailed: 1}))
	require.Error(t, store.FinishRun(ctx, "run-2", end, "completed", RunTotals{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "docs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "docs")
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
