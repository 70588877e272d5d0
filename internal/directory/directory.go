// Package directory maps user identities to their registered peer
// endpoints. Each device owns one endpoint record under a stable device
// key; re-registration supersedes that record without touching the
// user's other devices.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/record"
)

const collection = "endpoints"

// Endpoint describes where a user's device can be reached.
type Endpoint struct {
	DeviceID   string
	PeerID     string
	Addresses  []string
	LastActive time.Time
}

// Directory registers and looks up endpoints over the record store.
type Directory struct {
	store record.Store
}

// New creates a Directory backed by the given record store.
func New(store record.Store) *Directory {
	return &Directory{store: store}
}

func endpointKey(userID, deviceID string) string {
	return userID + ":" + deviceID
}

// Register upserts the caller's endpoint for userID. The record is keyed
// by deviceID, so registering twice with the same device leaves exactly
// one record; other devices of the same user are untouched.
func (d *Directory) Register(ctx context.Context, userID string, ep Endpoint) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if ep.DeviceID == "" {
		return fmt.Errorf("device id cannot be empty")
	}

	lastActive := ep.LastActive
	if lastActive.IsZero() {
		lastActive = time.Now().UTC()
	}

	addrs := make([]any, len(ep.Addresses))
	for i, a := range ep.Addresses {
		addrs[i] = a
	}

	return d.store.Put(ctx, collection, endpointKey(userID, ep.DeviceID), record.Document{
		"userId":     userID,
		"deviceId":   ep.DeviceID,
		"peerId":     ep.PeerID,
		"addresses":  addrs,
		"lastActive": lastActive,
	})
}

// Lookup returns all registered endpoints for the user, most recently
// active first. A user with no endpoints yields an empty slice, not an
// error.
func (d *Directory) Lookup(ctx context.Context, userID string) ([]Endpoint, error) {
	docs, err := d.store.Find(ctx, record.Query{
		Collection: collection,
		Equals:     map[string]any{"userId": userID},
		OrderBy:    "lastActive",
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("endpoint lookup failed: %w", err)
	}

	out := make([]Endpoint, 0, len(docs))
	for _, doc := range docs {
		out = append(out, endpointFromDoc(doc))
	}
	return out, nil
}

func endpointFromDoc(doc record.Document) Endpoint {
	ep := Endpoint{}
	if v, ok := doc["deviceId"].(string); ok {
		ep.DeviceID = v
	}
	if v, ok := doc["peerId"].(string); ok {
		ep.PeerID = v
	}
	if v, ok := doc["lastActive"].(time.Time); ok {
		ep.LastActive = v
	}
	if list, ok := doc["addresses"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				ep.Addresses = append(ep.Addresses, s)
			}
		}
	}
	return ep
}
