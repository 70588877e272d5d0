// Package relay implements the signaling/relay server: ephemeral peer
// registration with a heartbeat contract, a real-time channel for
// signaling and chunk relay, store-and-forward transfer brokering, and
// per-user shared peer nodes.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

// EventSink delivers events to one connected client's real-time channel.
type EventSink interface {
	Send(protocol.Event) error
}

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

type peerEntry struct {
	userID      string
	status      string
	connectedAt time.Time
	lastSeen    time.Time
	sink        EventSink
}

// Registry tracks connected peers. Peers register with Connect, keep
// their registration alive with Heartbeat, and are marked offline by
// the reaper once the grace period passes without one.
type Registry struct {
	log   *logrus.Entry
	grace time.Duration

	mu    sync.RWMutex
	peers map[string]*peerEntry
}

// NewRegistry creates a Registry. Peers missing a heartbeat for longer
// than grace are marked offline by Reap.
func NewRegistry(grace time.Duration, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		log:   logger.WithField("component", "registry"),
		grace: grace,
		peers: make(map[string]*peerEntry),
	}
}

// Connect registers a new ephemeral peer identity for a user.
func (r *Registry) Connect(userID string) string {
	peerID := uuid.NewString()
	now := time.Now()

	r.mu.Lock()
	r.peers[peerID] = &peerEntry{
		userID:      userID,
		status:      statusOnline,
		connectedAt: now,
		lastSeen:    now,
	}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"peer_id": peerID, "user_id": userID}).Info("peer connected")
	return peerID
}

// Heartbeat refreshes a peer's registration. Returns false for an
// unknown peer.
func (r *Registry) Heartbeat(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.peers[peerID]
	if !ok {
		return false
	}
	entry.lastSeen = time.Now()
	entry.status = statusOnline
	return true
}

// Disconnect marks a peer offline. Returns false for an unknown peer.
func (r *Registry) Disconnect(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.peers[peerID]
	if !ok {
		return false
	}
	entry.status = statusOffline
	entry.sink = nil
	return true
}

// Bind attaches a real-time channel to a registered peer. Returns
// false for an unknown peer.
func (r *Registry) Bind(peerID string, sink EventSink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.peers[peerID]
	if !ok {
		return false
	}
	entry.sink = sink
	entry.lastSeen = time.Now()
	entry.status = statusOnline
	return true
}

// Unbind detaches the channel from whichever peer holds it and marks
// that peer offline. Returns the peer's identity when one was bound.
func (r *Registry) Unbind(sink EventSink) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for peerID, entry := range r.peers {
		if entry.sink == sink {
			entry.sink = nil
			entry.status = statusOffline
			return peerID, true
		}
	}
	return "", false
}

// SinkFor returns the channel bound to a peer, if any.
func (r *Registry) SinkFor(peerID string) (EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.peers[peerID]
	if !ok || entry.sink == nil || entry.status != statusOnline {
		return nil, false
	}
	return entry.sink, true
}

// OnlinePeerForUser returns the first online peer registered for a
// user, and its bound channel when one exists.
func (r *Registry) OnlinePeerForUser(userID string) (peerID string, sink EventSink, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, entry := range r.peers {
		if entry.userID == userID && entry.status == statusOnline {
			return id, entry.sink, true
		}
	}
	return "", nil, false
}

// Peers lists online peers, optionally filtered by user.
func (r *Registry) Peers(userFilter string) map[string]protocol.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]protocol.PeerInfo)
	for peerID, entry := range r.peers {
		if entry.status != statusOnline {
			continue
		}
		if userFilter != "" && entry.userID != userFilter {
			continue
		}
		result[peerID] = protocol.PeerInfo{
			UserID:      entry.userID,
			Status:      entry.status,
			ConnectedAt: entry.connectedAt.Format(time.RFC3339),
			LastSeen:    entry.lastSeen.Format(time.RFC3339),
		}
	}
	return result
}

// Count returns the number of registered peers, online or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Broadcast sends an event to every bound channel.
func (r *Registry) Broadcast(ev protocol.Event) {
	r.mu.RLock()
	sinks := make([]EventSink, 0, len(r.peers))
	for _, entry := range r.peers {
		if entry.sink != nil {
			sinks = append(sinks, entry.sink)
		}
	}
	r.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Send(ev); err != nil {
			r.log.WithError(err).Debug("broadcast send failed")
		}
	}
}

// Reap marks peers offline whose last heartbeat is older than the
// grace period. Returns the reaped peer identities.
func (r *Registry) Reap(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	for peerID, entry := range r.peers {
		if entry.status == statusOnline && now.Sub(entry.lastSeen) > r.grace {
			entry.status = statusOffline
			entry.sink = nil
			reaped = append(reaped, peerID)
		}
	}
	return reaped
}

// Run runs the reaper loop until the context is cancelled. Each reaped
// peer is announced to the remaining clients.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, peerID := range r.Reap(now) {
				r.log.WithField("peer_id", peerID).Info("peer marked inactive")
				r.Broadcast(protocol.NewEvent(protocol.EventPeerDisconnected,
					protocol.PeerDisconnected{PeerID: peerID}))
			}
		}
	}
}
