// Package transfer drives a file transfer from request through direct
// delivery attempt to relay/store fallback to completion.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/directory"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/record"
)

var (
	// ErrNotAuthenticated means there is no current user identity. Fatal
	// to every coordinator operation.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrIOError means the destination write failed during download.
	ErrIOError = errors.New("i/o error")
)

// Identity supplies the caller's current user identity.
type Identity interface {
	CurrentUserID() (string, error)
}

// ContentStore is the content-addressed storage collaborator.
type ContentStore interface {
	Store(ctx context.Context, r io.Reader, name string, progress func(sent int64)) (string, error)
	Fetch(ctx context.Context, contentID string) (io.ReadCloser, error)
	Pin(ctx context.Context, contentID string) bool
	ShareURL(contentID string) string
}

// EndpointDirectory resolves a user's registered endpoints.
type EndpointDirectory interface {
	Lookup(ctx context.Context, userID string) ([]directory.Endpoint, error)
}

// PeerSession is the direct-delivery collaborator.
type PeerSession interface {
	EnsureReady(ctx context.Context) (peerID string, addrs []string, err error)
	Dial(ctx context.Context, peerID, addr string) error
	WaitForMesh(ctx context.Context, topic string, timeout time.Duration) bool
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Notice is the structured payload published to a receiver's well-known
// topic when content is ready.
type Notice struct {
	Type       string `json:"type"`
	TransferID string `json:"transferId"`
	ContentID  string `json:"contentId"`
	FileName   string `json:"fileName"`
}

// NoticeType is the Type value of transfer notices.
const NoticeType = "file_transfer"

// Options configures a Coordinator.
type Options struct {
	NotifyTopic string
	DialTimeout time.Duration
	Logger      *logrus.Logger
}

// Coordinator owns the transfer state machine. All collaborators are
// injected; the coordinator holds no process-wide state of its own.
type Coordinator struct {
	identity Identity
	records  record.Store
	content  ContentStore
	dir      EndpointDirectory
	session  PeerSession
	topic    string
	dialTO   time.Duration
	log      *logrus.Entry
}

// NewCoordinator wires a Coordinator from its collaborators.
func NewCoordinator(identity Identity, records record.Store, content ContentStore, dir EndpointDirectory, session PeerSession, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	topic := opts.NotifyTopic
	if topic == "" {
		topic = "burrowspace/transfers"
	}
	dialTO := opts.DialTimeout
	if dialTO == 0 {
		dialTO = 10 * time.Second
	}
	return &Coordinator{
		identity: identity,
		records:  records,
		content:  content,
		dir:      dir,
		session:  session,
		topic:    topic,
		dialTO:   dialTO,
		log:      logger.WithField("component", "transfer"),
	}
}

// RequestTransfer creates a pending transfer record and a receiver-facing
// notification. The sender may proceed to ShareFile without waiting for
// approval.
func (c *Coordinator) RequestTransfer(ctx context.Context, receiverID, fileName string, fileSize int64) (*Record, error) {
	senderID, err := c.identity.CurrentUserID()
	if err != nil || senderID == "" {
		return nil, ErrNotAuthenticated
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		FileName:   fileName,
		FileSize:   fileSize,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.records.Put(ctx, transfersCollection, rec.ID, rec.toDoc()); err != nil {
		return nil, fmt.Errorf("failed to create transfer record: %w", err)
	}
	c.notify(ctx, rec, "transfer_request")

	c.log.WithFields(logrus.Fields{
		"transfer_id": rec.ID, "receiver": receiverID, "file": fileName,
	}).Info("transfer requested")
	return rec, nil
}

// RecordIncoming persists a notice heard on the well-known topic as a
// completed, unprocessed record for the current user, feeding the
// watcher on the receiving side. Re-recording a known transfer is a
// no-op, so duplicate notices are harmless.
func (c *Coordinator) RecordIncoming(ctx context.Context, senderID string, n Notice) error {
	userID, err := c.identity.CurrentUserID()
	if err != nil || userID == "" {
		return ErrNotAuthenticated
	}

	existing, err := c.records.Get(ctx, transfersCollection, n.TransferID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:         n.TransferID,
		SenderID:   senderID,
		ReceiverID: userID,
		FileName:   n.FileName,
		ContentID:  n.ContentID,
		Status:     StatusCompleted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return c.records.Put(ctx, transfersCollection, rec.ID, rec.toDoc())
}

// ApproveTransfer moves a pending transfer to approved. Receiver side.
func (c *Coordinator) ApproveTransfer(ctx context.Context, transferID string) error {
	userID, err := c.identity.CurrentUserID()
	if err != nil || userID == "" {
		return ErrNotAuthenticated
	}
	return c.transition(ctx, transferID, StatusApproved, nil)
}

// CancelTransfer moves any non-terminal transfer to cancelled. Either
// party may call it; in-flight ShareFile calls observe the new status at
// their next step boundary.
func (c *Coordinator) CancelTransfer(ctx context.Context, transferID string) error {
	userID, err := c.identity.CurrentUserID()
	if err != nil || userID == "" {
		return ErrNotAuthenticated
	}
	return c.transition(ctx, transferID, StatusCancelled, nil)
}

// Get loads a transfer record by id.
func (c *Coordinator) Get(ctx context.Context, transferID string) (*Record, error) {
	doc, err := c.records.Get(ctx, transfersCollection, transferID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("transfer %s not found", transferID)
	}
	return recordFromDoc(doc), nil
}

// ShareFile runs the full share sequence: create record, place content,
// pin, attempt direct delivery, complete. Progress events land on the
// optional progress channel at the documented checkpoints. The returned
// record is terminal: completed with a content id, failed with an error,
// or cancelled.
func (c *Coordinator) ShareFile(ctx context.Context, receiverID, filePath string, progress chan<- Progress) (*Record, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", filePath, err)
	}

	rec, err := c.RequestTransfer(ctx, receiverID, filepath.Base(filePath), info.Size())
	if err != nil {
		return nil, err
	}
	c.emit(progress, rec.ID, 0.1, "requested")

	// Content placement. Failure here is fatal to the transfer.
	if c.cancelled(ctx, rec.ID) {
		return c.Get(ctx, rec.ID)
	}
	contentID, err := c.placeContent(ctx, rec, filePath, info.Size(), progress)
	if err != nil {
		failErr := fmt.Errorf("content placement failed: %w", err)
		if terr := c.transition(ctx, rec.ID, StatusFailed, record.Document{"error": failErr.Error()}); terr != nil {
			c.log.WithField("transfer_id", rec.ID).WithError(terr).Warn("failed to record failure")
		}
		out, _ := c.Get(ctx, rec.ID)
		return out, failErr
	}
	c.emit(progress, rec.ID, 0.7, "placed")

	// Retention hint. Best effort only.
	if !c.content.Pin(ctx, contentID) {
		c.log.WithFields(logrus.Fields{"transfer_id": rec.ID, "cid": contentID}).Warn("pin failed, continuing")
	}

	// Attach the content id and move to inProgress. ContentID is set
	// exactly once and never cleared.
	if c.cancelled(ctx, rec.ID) {
		return c.Get(ctx, rec.ID)
	}
	if err := c.transition(ctx, rec.ID, StatusInProgress, record.Document{
		"contentId": contentID,
		"shareUrl":  c.content.ShareURL(contentID),
	}); err != nil {
		out, _ := c.Get(ctx, rec.ID)
		return out, err
	}
	c.emit(progress, rec.ID, 0.8, "inProgress")

	// Direct delivery is an optimization: a transfer with no reachable
	// peer still completes, because the content address is the durable
	// hand-off artifact.
	if c.cancelled(ctx, rec.ID) {
		return c.Get(ctx, rec.ID)
	}
	c.attemptDirectDelivery(ctx, rec.ID, receiverID, contentID, filepath.Base(filePath))
	c.emit(progress, rec.ID, 0.9, "delivered")

	if c.cancelled(ctx, rec.ID) {
		return c.Get(ctx, rec.ID)
	}
	if err := c.transition(ctx, rec.ID, StatusCompleted, nil); err != nil {
		out, _ := c.Get(ctx, rec.ID)
		return out, err
	}
	c.emit(progress, rec.ID, 1.0, "completed")

	out, err := c.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	c.notify(ctx, out, "transfer_completed")
	c.log.WithFields(logrus.Fields{"transfer_id": out.ID, "cid": out.ContentID}).Info("transfer completed")
	return out, nil
}

// placeContent uploads the file, scaling placement progress into the
// [0.1, 0.7] band of overall progress.
func (c *Coordinator) placeContent(ctx context.Context, rec *Record, filePath string, size int64, progress chan<- Progress) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var report func(int64)
	if progress != nil && size > 0 {
		report = func(sent int64) {
			frac := 0.1 + 0.6*float64(sent)/float64(size)
			if frac > 0.7 {
				frac = 0.7
			}
			c.emit(progress, rec.ID, frac, "placing")
		}
	}
	return c.content.Store(ctx, f, rec.FileName, report)
}

// attemptDirectDelivery walks the receiver's endpoints most recently
// active first, dials until one accepts, and publishes the transfer
// notice. Every failure here is non-fatal.
func (c *Coordinator) attemptDirectDelivery(ctx context.Context, transferID, receiverID, contentID, fileName string) {
	endpoints, err := c.dir.Lookup(ctx, receiverID)
	if err != nil {
		c.log.WithField("transfer_id", transferID).WithError(err).Warn("endpoint lookup failed, relying on store hand-off")
		return
	}
	if len(endpoints) == 0 {
		c.log.WithField("transfer_id", transferID).Debug("receiver has no registered endpoints")
		return
	}

	if _, _, err := c.session.EnsureReady(ctx); err != nil {
		c.log.WithField("transfer_id", transferID).WithError(err).Warn("local session unavailable, relying on store hand-off")
		return
	}

	payload, err := json.Marshal(Notice{
		Type:       NoticeType,
		TransferID: transferID,
		ContentID:  contentID,
		FileName:   fileName,
	})
	if err != nil {
		return
	}

	for _, ep := range endpoints {
		dialed := false
		for _, addr := range ep.Addresses {
			dialCtx, cancel := context.WithTimeout(ctx, c.dialTO)
			err := c.session.Dial(dialCtx, ep.PeerID, addr)
			cancel()
			if err == nil {
				dialed = true
				break
			}
			c.log.WithFields(logrus.Fields{
				"transfer_id": transferID, "peer_id": ep.PeerID, "addr": addr,
			}).WithError(err).Debug("dial failed")
		}
		if !dialed {
			continue
		}
		// A just-dialed peer grafts into the gossip mesh at its next
		// heartbeat; publishing before anyone is in the mesh is a
		// silent drop.
		if !c.session.WaitForMesh(ctx, c.topic, c.dialTO) {
			c.log.WithFields(logrus.Fields{
				"transfer_id": transferID, "peer_id": ep.PeerID,
			}).Warn("dialed peer never joined the notify topic, relying on store hand-off")
			continue
		}
		if err := c.session.Publish(ctx, c.topic, payload); err != nil {
			c.log.WithField("transfer_id", transferID).WithError(err).Warn("publish after dial failed")
			continue
		}
		c.log.WithFields(logrus.Fields{"transfer_id": transferID, "peer_id": ep.PeerID}).Info("direct notice delivered")
		return
	}
	c.log.WithField("transfer_id", transferID).Info("no reachable endpoint, relying on store hand-off")
}

// DownloadFile fetches content by id and writes it to savePath.
func (c *Coordinator) DownloadFile(ctx context.Context, contentID, savePath string) error {
	body, err := c.content.Fetch(ctx, contentID)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	f, err := os.Create(savePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}

// transition applies a status change, enforcing the state machine and
// the write-once content id invariant. extra fields are merged with the
// status update.
func (c *Coordinator) transition(ctx context.Context, transferID string, to Status, extra record.Document) error {
	rec, err := c.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if !rec.Status.CanTransition(to) {
		return fmt.Errorf("illegal transition %s -> %s for transfer %s", rec.Status, to, transferID)
	}
	if extra != nil {
		if v, ok := extra["contentId"].(string); ok && rec.ContentID != "" && rec.ContentID != v {
			return fmt.Errorf("content id already set for transfer %s", transferID)
		}
	}

	fields := record.Document{
		"status":    string(to),
		"updatedAt": time.Now().UTC(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return c.records.Update(ctx, transfersCollection, transferID, fields)
}

// cancelled reloads the record and reports whether another party moved
// it to cancelled. Cancellation is cooperative: ShareFile checks before
// each step.
func (c *Coordinator) cancelled(ctx context.Context, transferID string) bool {
	rec, err := c.Get(ctx, transferID)
	if err != nil {
		return false
	}
	return rec.Status == StatusCancelled
}

// notify persists a receiver-facing notification record.
func (c *Coordinator) notify(ctx context.Context, rec *Record, kind string) {
	id := uuid.NewString()
	err := c.records.Put(ctx, notificationsCollection, id, record.Document{
		"kind":       kind,
		"transferId": rec.ID,
		"senderId":   rec.SenderID,
		"receiverId": rec.ReceiverID,
		"fileName":   rec.FileName,
		"createdAt":  time.Now().UTC(),
		"read":       false,
	})
	if err != nil {
		c.log.WithField("transfer_id", rec.ID).WithError(err).Warn("failed to write notification")
	}
}

func (c *Coordinator) emit(progress chan<- Progress, transferID string, fraction float64, stage string) {
	if progress == nil {
		return
	}
	select {
	case progress <- Progress{TransferID: transferID, Fraction: fraction, Stage: stage}:
	default:
		// Progress is advisory; never block the transfer on a slow UI.
	}
}
