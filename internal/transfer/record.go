package transfer

import (
	"time"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/record"
)

// Collections used in the record store.
const (
	transfersCollection     = "transfers"
	notificationsCollection = "notifications"
)

// Status is a transfer's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether s -> to is a legal transition. Transfers
// move pending -> approved -> inProgress -> completed; failed and
// cancelled are reachable from any non-terminal state.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	switch to {
	case StatusFailed, StatusCancelled:
		return true
	case StatusApproved:
		return s == StatusPending
	case StatusInProgress:
		return s == StatusPending || s == StatusApproved
	case StatusCompleted:
		return s == StatusInProgress
	default:
		return false
	}
}

// Record is a transfer's durable state.
type Record struct {
	ID         string
	SenderID   string
	ReceiverID string
	FileName   string
	FileSize   int64
	ContentID  string
	ShareURL   string
	Status     Status
	Error      string
	Processed  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *Record) toDoc() record.Document {
	return record.Document{
		"senderId":   r.SenderID,
		"receiverId": r.ReceiverID,
		"fileName":   r.FileName,
		"fileSize":   r.FileSize,
		"contentId":  r.ContentID,
		"shareUrl":   r.ShareURL,
		"status":     string(r.Status),
		"error":      r.Error,
		"processed":  r.Processed,
		"createdAt":  r.CreatedAt,
		"updatedAt":  r.UpdatedAt,
	}
}

func recordFromDoc(doc record.Document) *Record {
	r := &Record{}
	if v, ok := doc["id"].(string); ok {
		r.ID = v
	}
	if v, ok := doc["senderId"].(string); ok {
		r.SenderID = v
	}
	if v, ok := doc["receiverId"].(string); ok {
		r.ReceiverID = v
	}
	if v, ok := doc["fileName"].(string); ok {
		r.FileName = v
	}
	if v, ok := doc["fileSize"].(int64); ok {
		r.FileSize = v
	}
	if v, ok := doc["contentId"].(string); ok {
		r.ContentID = v
	}
	if v, ok := doc["shareUrl"].(string); ok {
		r.ShareURL = v
	}
	if v, ok := doc["status"].(string); ok {
		r.Status = Status(v)
	}
	if v, ok := doc["error"].(string); ok {
		r.Error = v
	}
	if v, ok := doc["processed"].(bool); ok {
		r.Processed = v
	}
	if v, ok := doc["createdAt"].(time.Time); ok {
		r.CreatedAt = v
	}
	if v, ok := doc["updatedAt"].(time.Time); ok {
		r.UpdatedAt = v
	}
	return r
}

// Progress is emitted on a coordinator's progress channel at fixed
// checkpoints (0.1, 0.7, 0.8, 0.9, 1.0) and scaled content-placement
// fractions in between.
type Progress struct {
	TransferID string
	Fraction   float64
	Stage      string
}
