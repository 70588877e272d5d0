package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/record"
)

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	d := New(record.NewMemStore())

	ep := Endpoint{
		DeviceID:   "phone",
		PeerID:     "12D3KooWExample",
		Addresses:  []string{"/ip4/192.168.1.5/tcp/4001"},
		LastActive: time.Now(),
	}
	require.NoError(t, d.Register(ctx, "alice", ep))

	eps, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "phone", eps[0].DeviceID)
	assert.Equal(t, ep.Addresses, eps[0].Addresses)
}

func TestRegisterIsIdempotentPerDevice(t *testing.T) {
	ctx := context.Background()
	d := New(record.NewMemStore())

	ep := Endpoint{DeviceID: "phone", PeerID: "peer-1", LastActive: time.Now()}
	require.NoError(t, d.Register(ctx, "alice", ep))
	require.NoError(t, d.Register(ctx, "alice", ep))

	eps, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, eps, 1)
}

func TestReRegisterSupersedes(t *testing.T) {
	ctx := context.Background()
	d := New(record.NewMemStore())

	require.NoError(t, d.Register(ctx, "alice", Endpoint{
		DeviceID: "phone", PeerID: "peer-old", LastActive: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, d.Register(ctx, "alice", Endpoint{
		DeviceID: "phone", PeerID: "peer-new", LastActive: time.Now(),
	}))

	eps, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "peer-new", eps[0].PeerID)
}

func TestLookupOrdersMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	d := New(record.NewMemStore())

	now := time.Now()
	require.NoError(t, d.Register(ctx, "alice", Endpoint{
		DeviceID: "laptop", PeerID: "peer-laptop", LastActive: now.Add(-time.Hour),
	}))
	require.NoError(t, d.Register(ctx, "alice", Endpoint{
		DeviceID: "phone", PeerID: "peer-phone", LastActive: now,
	}))

	eps, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "phone", eps[0].DeviceID)
	assert.Equal(t, "laptop", eps[1].DeviceID)
}

func TestLookupUnknownUserIsEmpty(t *testing.T) {
	d := New(record.NewMemStore())

	eps, err := d.Lookup(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestRegisterDoesNotTouchOtherUsers(t *testing.T) {
	ctx := context.Background()
	d := New(record.NewMemStore())

	require.NoError(t, d.Register(ctx, "alice", Endpoint{DeviceID: "phone", LastActive: time.Now()}))
	require.NoError(t, d.Register(ctx, "bob", Endpoint{DeviceID: "phone", LastActive: time.Now()}))

	aliceEps, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, aliceEps, 1)

	bobEps, err := d.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bobEps, 1)
}

func TestRegisterRequiresUserID(t *testing.T) {
	d := New(record.NewMemStore())
	err := d.Register(context.Background(), "", Endpoint{DeviceID: "phone"})
	assert.Error(t, err)
}
