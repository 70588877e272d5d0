package transfer

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/record"
)

// Watcher is the receiver-side observer: it follows completed, not yet
// processed transfers addressed to the current user and downloads their
// content. Delivery from the record store is at least once; the
// processed flag makes handling idempotent.
type Watcher struct {
	coord       *Coordinator
	downloadDir string
	onDone      func(rec *Record, savePath string, err error)
	log         *logrus.Entry
}

// NewWatcher creates a Watcher that saves downloads under downloadDir.
// onDone, when set, is invoked after each download attempt.
func NewWatcher(coord *Coordinator, downloadDir string, onDone func(rec *Record, savePath string, err error)) *Watcher {
	return &Watcher{
		coord:       coord,
		downloadDir: downloadDir,
		onDone:      onDone,
		log:         coord.log.WithField("component", "watcher"),
	}
}

// Run subscribes to the completed-transfer feed and processes matches
// until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	userID, err := w.coord.identity.CurrentUserID()
	if err != nil || userID == "" {
		return ErrNotAuthenticated
	}

	sub, err := w.coord.records.Subscribe(ctx, record.Query{
		Collection: transfersCollection,
		Equals: map[string]any{
			"receiverId": userID,
			"status":     string(StatusCompleted),
			"processed":  false,
		},
		OrderBy: "updatedAt",
	})
	if err != nil {
		return err
	}
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case doc, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			w.process(ctx, recordFromDoc(doc))
		}
	}
}

func (w *Watcher) process(ctx context.Context, rec *Record) {
	if rec.Processed || rec.ContentID == "" {
		return
	}

	// Mark processed before downloading so a duplicate notification for
	// the same record is a no-op.
	err := w.coord.records.Update(ctx, transfersCollection, rec.ID, record.Document{"processed": true})
	if err != nil {
		w.log.WithField("transfer_id", rec.ID).WithError(err).Warn("failed to mark transfer processed")
		return
	}

	savePath := filepath.Join(w.downloadDir, rec.FileName)
	err = w.coord.DownloadFile(ctx, rec.ContentID, savePath)
	if err != nil {
		w.log.WithFields(logrus.Fields{
			"transfer_id": rec.ID, "cid": rec.ContentID,
		}).WithError(err).Warn("download failed")
	} else {
		w.log.WithFields(logrus.Fields{
			"transfer_id": rec.ID, "path": savePath,
		}).Info("transfer downloaded")
	}
	if w.onDone != nil {
		w.onDone(rec, savePath, err)
	}
}
