package relay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

var (
	// ErrUnknownTransfer means no brokered transfer matches the id.
	ErrUnknownTransfer = errors.New("transfer not found")

	// ErrNotReady means the file for a transfer has not been uploaded yet.
	ErrNotReady = errors.New("file not ready for download")
)

// Transfer mode labels reported in status responses.
const (
	ModeP2P         = "p2p"
	ModeServerRelay = "server_relay"
)

type transferRequest struct {
	senderID   string
	receiverID string
	fileName   string
	status     string
	createdAt  time.Time
}

type activeTransfer struct {
	requestID    string
	senderID     string
	receiverID   string
	fileName     string
	status       string
	progress     float64
	transferMode string
	filePath     string
	createdAt    time.Time
	completedAt  time.Time
}

// TransferBook brokers transfers through the server: the request and
// approval bookkeeping plus the store-and-forward upload directory used
// when no peer-to-peer path works.
type TransferBook struct {
	log       *logrus.Entry
	uploadDir string

	mu       sync.Mutex
	requests map[string]*transferRequest
	active   map[string]*activeTransfer
}

// NewTransferBook creates a TransferBook backed by uploadDir.
func NewTransferBook(uploadDir string, logger *logrus.Logger) *TransferBook {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TransferBook{
		log:       logger.WithField("component", "transfers"),
		uploadDir: uploadDir,
		requests:  make(map[string]*transferRequest),
		active:    make(map[string]*activeTransfer),
	}
}

// Request records a new transfer request and returns its identity.
func (b *TransferBook) Request(senderID, receiverID, fileName string) string {
	requestID := uuid.NewString()

	b.mu.Lock()
	b.requests[requestID] = &transferRequest{
		senderID:   senderID,
		receiverID: receiverID,
		fileName:   fileName,
		status:     "pending",
		createdAt:  time.Now(),
	}
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"sender":     senderID,
		"receiver":   receiverID,
		"filename":   fileName,
	}).Info("new transfer request")
	return requestID
}

// Approve marks a request approved and opens an active transfer for it.
// Returns the new transfer identity and the sender to notify.
func (b *TransferBook) Approve(requestID string) (transferID, senderID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.requests[requestID]
	if !ok {
		return "", "", fmt.Errorf("%w: request %s", ErrUnknownTransfer, requestID)
	}
	req.status = "approved"

	transferID = uuid.NewString()
	b.active[transferID] = &activeTransfer{
		requestID:    requestID,
		senderID:     req.senderID,
		receiverID:   req.receiverID,
		fileName:     req.fileName,
		status:       "ready",
		transferMode: ModeP2P,
		createdAt:    time.Now(),
	}

	b.log.WithFields(logrus.Fields{"request_id": requestID, "transfer_id": transferID}).
		Info("transfer request approved")
	return transferID, req.senderID, nil
}

// SaveUpload stores an uploaded file under the transfer's directory and
// marks the transfer completed in server-relay mode.
func (b *TransferBook) SaveUpload(transferID, fileName string, src io.Reader) error {
	b.mu.Lock()
	t, ok := b.active[transferID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	t.status = "transferring"
	t.transferMode = ModeServerRelay
	b.mu.Unlock()

	dir := filepath.Join(b.uploadDir, transferID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create transfer directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(fileName))
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to write upload: %w", err)
	}

	b.mu.Lock()
	t.status = "completed"
	t.progress = 100
	t.filePath = path
	t.completedAt = time.Now()
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{"transfer_id": transferID, "filename": fileName}).
		Info("file uploaded")
	return nil
}

// FilePath returns the stored file for a completed transfer.
func (b *TransferBook) FilePath(transferID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.active[transferID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	if t.status != "completed" || t.filePath == "" {
		return "", ErrNotReady
	}
	return t.filePath, nil
}

// Status returns a snapshot of an active transfer.
func (b *TransferBook) Status(transferID string) (protocol.TransferStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.active[transferID]
	if !ok {
		return protocol.TransferStatus{}, fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	return protocol.TransferStatus{
		RequestID:    t.requestID,
		Status:       t.status,
		Progress:     t.progress,
		SenderID:     t.senderID,
		ReceiverID:   t.receiverID,
		FileName:     t.fileName,
		TransferMode: t.transferMode,
	}, nil
}

// Update records peer-reported status and progress. Returns the
// participants so the caller can notify them on completion.
func (b *TransferBook) Update(transferID, status string, progress float64) (senderID, receiverID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.active[transferID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	t.status = status
	t.progress = progress
	if status == "completed" {
		t.completedAt = time.Now()
	}
	return t.senderID, t.receiverID, nil
}

// Cancel marks a transfer cancelled and removes any uploaded file.
// Returns the participants so the caller can notify them.
func (b *TransferBook) Cancel(transferID string) (senderID, receiverID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.active[transferID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	t.status = "cancelled"

	if t.transferMode == ModeServerRelay && t.filePath != "" {
		if err := os.Remove(t.filePath); err != nil && !os.IsNotExist(err) {
			b.log.WithError(err).Warn("failed to remove cancelled upload")
		}
		t.filePath = ""
	}

	b.log.WithField("transfer_id", transferID).Info("transfer cancelled")
	return t.senderID, t.receiverID, nil
}

// ActiveCount returns the number of brokered transfers.
func (b *TransferBook) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}
