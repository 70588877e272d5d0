package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/directory"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/record"
)

type fakeIdentity struct{ id string }

func (f fakeIdentity) CurrentUserID() (string, error) {
	if f.id == "" {
		return "", errors.New("no session")
	}
	return f.id, nil
}

var errGatewayDown = errors.New("gateway down")

type fakeContent struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	nextID    int
	failStore bool
	pinOK     bool
	onStore   func()
}

func newFakeContent() *fakeContent {
	return &fakeContent{blobs: make(map[string][]byte), pinOK: true}
}

func (f *fakeContent) Store(ctx context.Context, r io.Reader, name string, progress func(int64)) (string, error) {
	if f.onStore != nil {
		f.onStore()
	}
	if f.failStore {
		return "", errGatewayDown
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress(int64(len(data)) / 2)
		progress(int64(len(data)))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("QmFake%d", f.nextID)
	f.blobs[id] = data
	return id, nil
}

func (f *fakeContent) Fetch(ctx context.Context, contentID string) (io.ReadCloser, error) {
	f.mu.Lock()
	data, ok := f.blobs[contentID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("content %s not found", contentID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeContent) Pin(ctx context.Context, contentID string) bool { return f.pinOK }

func (f *fakeContent) ShareURL(contentID string) string {
	return "http://gateway/ipfs/" + contentID
}

type fakeDirectory struct {
	eps []directory.Endpoint
	err error
}

func (f *fakeDirectory) Lookup(ctx context.Context, userID string) ([]directory.Endpoint, error) {
	return f.eps, f.err
}

type fakeSession struct {
	mu        sync.Mutex
	dialErr   error
	ensureErr error
	meshDown  bool
	dials     []string
	published [][]byte
	calls     []string
}

func (f *fakeSession) EnsureReady(ctx context.Context) (string, []string, error) {
	return "self-peer", []string{"/ip4/127.0.0.1/tcp/4001"}, f.ensureErr
}

func (f *fakeSession) Dial(ctx context.Context, peerID, addr string) error {
	f.mu.Lock()
	f.dials = append(f.dials, peerID+"@"+addr)
	f.calls = append(f.calls, "dial")
	f.mu.Unlock()
	return f.dialErr
}

func (f *fakeSession) WaitForMesh(ctx context.Context, topic string, timeout time.Duration) bool {
	f.mu.Lock()
	f.calls = append(f.calls, "mesh")
	down := f.meshDown
	f.mu.Unlock()
	return !down
}

func (f *fakeSession) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	f.published = append(f.published, payload)
	f.calls = append(f.calls, "publish")
	f.mu.Unlock()
	return nil
}

type fixture struct {
	coord   *Coordinator
	records *record.MemStore
	content *fakeContent
	dir     *fakeDirectory
	session *fakeSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records: record.NewMemStore(),
		content: newFakeContent(),
		dir:     &fakeDirectory{},
		session: &fakeSession{},
	}
	f.coord = NewCoordinator(fakeIdentity{"alice"}, f.records, f.content, f.dir, f.session, Options{})
	return f
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestShareFileCompletesWithNoEndpoints(t *testing.T) {
	f := newFixture(t)
	path := writeTempFile(t, "report.pdf", bytes.Repeat([]byte("x"), 2<<20))

	rec, err := f.coord.ShareFile(context.Background(), "bob", path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.ContentID)
	assert.Equal(t, "http://gateway/ipfs/"+rec.ContentID, rec.ShareURL)
	assert.Empty(t, rec.Error)

	// Zero endpoints means the dial step is skipped entirely.
	assert.Empty(t, f.session.dials)
	assert.Empty(t, f.session.published)
}

func TestShareFileCompletesWhenDialFails(t *testing.T) {
	f := newFixture(t)
	f.dir.eps = []directory.Endpoint{{
		DeviceID: "phone", PeerID: "peer-bob",
		Addresses: []string{"/ip4/10.0.0.9/tcp/4001"},
	}}
	f.session.dialErr = errors.New("dial timed out")
	path := writeTempFile(t, "notes.txt", []byte("hello"))

	rec, err := f.coord.ShareFile(context.Background(), "bob", path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.ContentID)

	assert.Len(t, f.session.dials, 1)
	assert.Empty(t, f.session.published)
}

func TestShareFilePublishesNoticeOnFirstReachableEndpoint(t *testing.T) {
	f := newFixture(t)
	f.dir.eps = []directory.Endpoint{
		{DeviceID: "phone", PeerID: "peer-1", Addresses: []string{"/ip4/10.0.0.1/tcp/4001"}},
		{DeviceID: "laptop", PeerID: "peer-2", Addresses: []string{"/ip4/10.0.0.2/tcp/4001"}},
	}
	path := writeTempFile(t, "photo.jpg", []byte("jpeg bytes"))

	rec, err := f.coord.ShareFile(context.Background(), "bob", path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)

	// Iteration stops at the first successful dial, and the notice goes
	// out only after the receiver has joined the topic mesh.
	assert.Len(t, f.session.dials, 1)
	require.Len(t, f.session.published, 1)
	assert.Equal(t, []string{"dial", "mesh", "publish"}, f.session.calls)
	assert.Contains(t, string(f.session.published[0]), `"type":"file_transfer"`)
	assert.Contains(t, string(f.session.published[0]), rec.ContentID)
	assert.Contains(t, string(f.session.published[0]), "photo.jpg")
}

func TestShareFileSkipsNoticeWhenMeshNeverForms(t *testing.T) {
	f := newFixture(t)
	f.dir.eps = []directory.Endpoint{{
		DeviceID: "phone", PeerID: "peer-bob",
		Addresses: []string{"/ip4/10.0.0.9/tcp/4001"},
	}}
	f.session.meshDown = true
	path := writeTempFile(t, "silent.txt", []byte("hello"))

	rec, err := f.coord.ShareFile(context.Background(), "bob", path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)

	// The dial succeeded but the receiver never grafted into the topic
	// mesh, so nothing is published and the store hand-off carries the
	// transfer.
	assert.Len(t, f.session.dials, 1)
	assert.Contains(t, f.session.calls, "mesh")
	assert.Empty(t, f.session.published)
}

func TestShareFileFailsWhenStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.content.failStore = true
	path := writeTempFile(t, "doomed.bin", []byte("payload"))

	rec, err := f.coord.ShareFile(context.Background(), "bob", path, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "content placement failed")
	assert.ErrorIs(t, err, errGatewayDown)

	require.NotNil(t, rec)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Empty(t, rec.ContentID)
	assert.Contains(t, rec.Error, "content placement failed")
}

func TestShareFileProgressCheckpoints(t *testing.T) {
	f := newFixture(t)
	path := writeTempFile(t, "data.bin", bytes.Repeat([]byte("y"), 4096))

	progress := make(chan Progress, 64)
	rec, err := f.coord.ShareFile(context.Background(), "bob", path, progress)
	require.NoError(t, err)
	close(progress)

	var fractions []float64
	for p := range progress {
		assert.Equal(t, rec.ID, p.TransferID)
		fractions = append(fractions, p.Fraction)
	}

	for _, want := range []float64{0.1, 0.7, 0.8, 0.9, 1.0} {
		assert.Containsf(t, fractions, want, "missing checkpoint %v", want)
	}
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
}

func TestShareFileObservesCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeTempFile(t, "cancelled.bin", []byte("payload"))

	// Cancel from the other side while placement is in flight.
	f.content.onStore = func() {
		docs, err := f.records.Find(ctx, record.Query{
			Collection: transfersCollection,
			Equals:     map[string]any{"status": string(StatusPending)},
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		id, _ := docs[0]["id"].(string)
		require.NoError(t, f.coord.CancelTransfer(ctx, id))
	}

	rec, err := f.coord.ShareFile(ctx, "bob", path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
	assert.Empty(t, rec.ContentID)
	assert.Empty(t, f.session.dials)
}

func TestShareFileRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	f.coord = NewCoordinator(fakeIdentity{""}, f.records, f.content, f.dir, f.session, Options{})
	path := writeTempFile(t, "f.txt", []byte("x"))

	_, err := f.coord.ShareFile(context.Background(), "bob", path, nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestShareFileMissingFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.ShareFile(context.Background(), "bob", "/no/such/file", nil)
	assert.Error(t, err)
}

func TestApproveTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.coord.RequestTransfer(ctx, "bob", "report.pdf", 1024)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, f.coord.ApproveTransfer(ctx, rec.ID))

	got, err := f.coord.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestCancelTerminalTransferFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeTempFile(t, "done.txt", []byte("x"))

	rec, err := f.coord.ShareFile(ctx, "bob", path, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)

	err = f.coord.CancelTransfer(ctx, rec.ID)
	assert.ErrorContains(t, err, "illegal transition")
}

func TestRequestTransferWritesNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.coord.RequestTransfer(ctx, "bob", "report.pdf", 1024)
	require.NoError(t, err)

	docs, err := f.records.Find(ctx, record.Query{
		Collection: notificationsCollection,
		Equals:     map[string]any{"transferId": rec.ID, "kind": "transfer_request"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "bob", docs[0]["receiverId"])
	assert.Equal(t, false, docs[0]["read"])
}

func TestDownloadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := []byte("downloaded content")

	id, err := f.content.Store(ctx, bytes.NewReader(payload), "f", nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out", "f.bin")
	require.NoError(t, f.coord.DownloadFile(ctx, id, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadFileMissingContent(t *testing.T) {
	f := newFixture(t)
	err := f.coord.DownloadFile(context.Background(), "QmMissing", filepath.Join(t.TempDir(), "f"))
	assert.ErrorContains(t, err, "not found")
}

func TestDownloadFileBadDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.content.Store(ctx, bytes.NewReader([]byte("x")), "f", nil)
	require.NoError(t, err)

	// A file where a directory is needed makes the destination unwritable.
	blocker := writeTempFile(t, "blocker", []byte("file, not dir"))
	err = f.coord.DownloadFile(ctx, id, filepath.Join(blocker, "sub", "out.bin"))
	assert.ErrorIs(t, err, ErrIOError)
}

func TestRecordIncomingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notice := Notice{
		Type:       NoticeType,
		TransferID: "t-remote",
		ContentID:  "QmRemote",
		FileName:   "shared.txt",
	}

	require.NoError(t, f.coord.RecordIncoming(ctx, "sender-peer", notice))
	require.NoError(t, f.coord.RecordIncoming(ctx, "sender-peer", notice))

	rec, err := f.coord.Get(ctx, "t-remote")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "alice", rec.ReceiverID)
	assert.Equal(t, "QmRemote", rec.ContentID)
	assert.False(t, rec.Processed)
}

func TestContentIDWriteOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.coord.RequestTransfer(ctx, "bob", "f.txt", 1)
	require.NoError(t, err)
	require.NoError(t, f.coord.transition(ctx, rec.ID, StatusInProgress, record.Document{
		"contentId": "QmFirst",
	}))

	err = f.coord.transition(ctx, rec.ID, StatusCompleted, record.Document{
		"contentId": "QmSecond",
	})
	assert.ErrorContains(t, err, "content id already set")
}
