package ui_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/plotfarm/internal/ui"
)

// archiveLogger mirrors the --log setup: text at info plus JSON at debug.
func archiveLogger(text, js *bytes.Buffer) *slog.Logger {
	return slog.New(ui.NewMultiHandler(
		slog.NewTextHandler(text, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(js, &slog.HandlerOptions{Level: slog.LevelDebug}),
	))
}

func jsonRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var recs []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		recs = append(recs, rec)
	}
	return recs
}

func TestMultiHandler_LevelsPerSink(t *testing.T) {
	t.Parallel()

	var text, js bytes.Buffer
	log := archiveLogger(&text, &js)
	log.Debug("plotfarm.event", "type", "TransferStarted", "bus", "usb2")
	log.Info("transfer started", "source", "/plots/a.plot")

	assert.NotContains(t, text.String(), "plotfarm.event")
	assert.Contains(t, text.String(), "source=/plots/a.plot")

	recs := jsonRecords(t, &js)
	require.Len(t, recs, 2)
	assert.Equal(t, "plotfarm.event", recs[0]["msg"])
	assert.Equal(t, "usb2", recs[0]["bus"])
	assert.Equal(t, "transfer started", recs[1]["msg"])
}

func TestMultiHandler_Enabled(t *testing.T) {
	t.Parallel()

	m := ui.NewMultiHandler(
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	ctx := context.Background()
	assert.True(t, m.Enabled(ctx, slog.LevelWarn))
	assert.False(t, m.Enabled(ctx, slog.LevelInfo))
}

func TestMultiHandler_AttrsAndGroupsReachEverySink(t *testing.T) {
	t.Parallel()

	var text, js bytes.Buffer
	log := archiveLogger(&text, &js).
		With("component", "manager", "run", "3f2a").
		WithGroup("task")
	log.Info("transfer failed", "id", 7)

	assert.Contains(t, text.String(), "component=manager")
	assert.Contains(t, text.String(), "task.id=7")

	recs := jsonRecords(t, &js)
	require.Len(t, recs, 1)
	assert.Equal(t, "3f2a", recs[0]["run"])
	task, ok := recs[0]["task"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 7, task["id"], 0)
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestMultiHandler_JoinsErrorsAndKeepsWriting(t *testing.T) {
	t.Parallel()

	var text bytes.Buffer
	textH := slog.NewTextHandler(&text, nil)
	m := ui.NewMultiHandler(failingHandler{textH}, textH)

	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "inventory refreshed", 0)
	err := m.Handle(context.Background(), r)
	require.ErrorContains(t, err, "disk full")
	assert.Contains(t, text.String(), "inventory refreshed")
}
