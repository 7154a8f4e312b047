package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/pdfcrawler/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageFetchStart, Site: "example.com"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageDownloadFailed, Site: "example.com", URL: "https://example.com/a.pdf", Reason: "SizeLimitExceeded"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "DOWNLOAD_FAILED", fields["stage"])
	require.Equal(t, "SizeLimitExceeded", fields["reason"])
	require.Equal(t, uuid.UUID(runID).String(), fields["run_id"])
}
