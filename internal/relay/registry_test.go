package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

// chanSink collects events delivered to a fake channel.
type chanSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *chanSink) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *chanSink) Events() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Event(nil), s.events...)
}

func TestRegistryConnectAndPeers(t *testing.T) {
	r := NewRegistry(90*time.Second, nil)

	p1 := r.Connect("alice")
	p2 := r.Connect("bob")
	require.NotEqual(t, p1, p2)
	assert.Equal(t, 2, r.Count())

	peers := r.Peers("")
	require.Len(t, peers, 2)
	assert.Equal(t, "alice", peers[p1].UserID)
	assert.Equal(t, "online", peers[p1].Status)

	onlyBob := r.Peers("bob")
	require.Len(t, onlyBob, 1)
	assert.Equal(t, "bob", onlyBob[p2].UserID)
}

func TestRegistryHeartbeatUnknownPeer(t *testing.T) {
	r := NewRegistry(90*time.Second, nil)
	assert.False(t, r.Heartbeat("nope"))
	assert.True(t, r.Heartbeat(r.Connect("alice")))
}

func TestRegistryDisconnectHidesPeer(t *testing.T) {
	r := NewRegistry(90*time.Second, nil)
	p := r.Connect("alice")

	require.True(t, r.Disconnect(p))
	assert.Empty(t, r.Peers(""))
	assert.False(t, r.Disconnect("nope"))

	// Still registered, just offline.
	assert.Equal(t, 1, r.Count())
}

func TestRegistryBindAndSinkFor(t *testing.T) {
	r := NewRegistry(90*time.Second, nil)
	p := r.Connect("alice")
	sink := &chanSink{}

	assert.False(t, r.Bind("nope", sink))
	require.True(t, r.Bind(p, sink))

	got, ok := r.SinkFor(p)
	require.True(t, ok)
	assert.Same(t, sink, got.(*chanSink))

	peerID, ok := r.Unbind(sink)
	require.True(t, ok)
	assert.Equal(t, p, peerID)

	_, ok = r.SinkFor(p)
	assert.False(t, ok)

	_, ok = r.Unbind(sink)
	assert.False(t, ok)
}

func TestRegistryOnlinePeerForUser(t *testing.T) {
	r := NewRegistry(90*time.Second, nil)
	p := r.Connect("alice")
	sink := &chanSink{}
	require.True(t, r.Bind(p, sink))

	peerID, got, ok := r.OnlinePeerForUser("alice")
	require.True(t, ok)
	assert.Equal(t, p, peerID)
	assert.NotNil(t, got)

	_, _, ok = r.OnlinePeerForUser("bob")
	assert.False(t, ok)

	r.Disconnect(p)
	_, _, ok = r.OnlinePeerForUser("alice")
	assert.False(t, ok)
}

func TestRegistryReapAfterGrace(t *testing.T) {
	grace := time.Minute
	r := NewRegistry(grace, nil)
	p := r.Connect("alice")

	// Within the grace period nothing is reaped.
	assert.Empty(t, r.Reap(time.Now()))
	assert.Empty(t, r.Reap(time.Now().Add(grace/2)))

	reaped := r.Reap(time.Now().Add(2 * grace))
	assert.Equal(t, []string{p}, reaped)
	assert.Empty(t, r.Peers(""))

	// Already offline peers are not reaped again.
	assert.Empty(t, r.Reap(time.Now().Add(3*grace)))

	// A heartbeat brings a reaped peer back online.
	require.True(t, r.Heartbeat(p))
	assert.Contains(t, r.Peers(""), p)
}

func TestRegistryReapDropsSink(t *testing.T) {
	grace := 10 * time.Millisecond
	r := NewRegistry(grace, nil)
	p := r.Connect("alice")
	require.True(t, r.Bind(p, &chanSink{}))

	reaped := r.Reap(time.Now().Add(time.Second))
	require.Equal(t, []string{p}, reaped)

	_, ok := r.SinkFor(p)
	assert.False(t, ok)
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry(90*time.Second, nil)
	s1, s2 := &chanSink{}, &chanSink{}
	require.True(t, r.Bind(r.Connect("alice"), s1))
	require.True(t, r.Bind(r.Connect("bob"), s2))
	r.Connect("carol") // no channel bound

	ev := protocol.NewEvent(protocol.EventPeerDisconnected, protocol.PeerDisconnected{PeerID: "x"})
	r.Broadcast(ev)

	require.Len(t, s1.Events(), 1)
	require.Len(t, s2.Events(), 1)
	assert.Equal(t, protocol.EventPeerDisconnected, s1.Events()[0].Event)
}
