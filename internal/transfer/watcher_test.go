package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type watchResult struct {
	rec      *Record
	savePath string
	err      error
}

func runWatcher(t *testing.T, f *fixture, dir string) (chan watchResult, context.CancelFunc) {
	t.Helper()
	results := make(chan watchResult, 8)
	ctx, cancel := context.WithCancel(context.Background())

	w := NewWatcher(f.coord, dir, func(rec *Record, savePath string, err error) {
		results <- watchResult{rec, savePath, err}
	})
	go w.Run(ctx)
	return results, cancel
}

func TestWatcherDownloadsCompletedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	payload := []byte("incoming file bytes")
	id, err := f.content.Store(ctx, bytes.NewReader(payload), "f", nil)
	require.NoError(t, err)

	require.NoError(t, f.coord.RecordIncoming(ctx, "peer-sender", Notice{
		Type: NoticeType, TransferID: "t1", ContentID: id, FileName: "incoming.txt",
	}))

	results, cancel := runWatcher(t, f, dir)
	defer cancel()

	res := waitResult(t, results)
	require.NoError(t, res.err)
	assert.Equal(t, "t1", res.rec.ID)
	assert.Equal(t, filepath.Join(dir, "incoming.txt"), res.savePath)

	got, err := os.ReadFile(res.savePath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	rec, err := f.coord.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, rec.Processed)
}

func TestWatcherIgnoresDuplicateNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	id, err := f.content.Store(ctx, bytes.NewReader([]byte("x")), "f", nil)
	require.NoError(t, err)
	require.NoError(t, f.coord.RecordIncoming(ctx, "peer-sender", Notice{
		Type: NoticeType, TransferID: "t1", ContentID: id, FileName: "f.txt",
	}))

	results, cancel := runWatcher(t, f, dir)
	defer cancel()
	waitResult(t, results)

	// Replaying the record after it was marked processed is a no-op.
	doc, err := f.records.Get(ctx, transfersCollection, "t1")
	require.NoError(t, err)
	w := NewWatcher(f.coord, dir, func(rec *Record, savePath string, err error) {
		t.Error("processed record handled twice")
	})
	w.process(ctx, recordFromDoc(doc))
}

func TestWatcherSkipsRecordsWithoutContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	called := false
	w := NewWatcher(f.coord, t.TempDir(), func(rec *Record, savePath string, err error) {
		called = true
	})
	w.process(ctx, &Record{ID: "t1", FileName: "f.txt"})
	assert.False(t, called)
}

func TestWatcherReportsDownloadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, f.coord.RecordIncoming(ctx, "peer-sender", Notice{
		Type: NoticeType, TransferID: "t1", ContentID: "QmNeverStored", FileName: "f.txt",
	}))

	results, cancel := runWatcher(t, f, dir)
	defer cancel()

	res := waitResult(t, results)
	assert.Error(t, res.err)

	// The record is still marked processed: the feed is at least once and
	// retry policy belongs to the caller.
	rec, err := f.coord.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, rec.Processed)
}

func TestWatcherRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	f.coord = NewCoordinator(fakeIdentity{""}, f.records, f.content, f.dir, f.session, Options{})

	w := NewWatcher(f.coord, t.TempDir(), nil)
	err := w.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func waitResult(t *testing.T, results chan watchResult) watchResult {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watcher")
		return watchResult{}
	}
}
