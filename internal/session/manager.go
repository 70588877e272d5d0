// Package session owns the long-lived local peer endpoint: one libp2p
// identity per running instance, dialing of remote endpoints, and
// topic-scoped publish/subscribe over the established links.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInitFailed means the local endpoint could not start. The manager
	// stays uninitialized; the caller may retry EnsureReady.
	ErrInitFailed = errors.New("peer session initialization failed")

	// ErrDialFailed means a direct connection attempt did not succeed.
	// Never fatal: callers fall back to relay or store-and-forward.
	ErrDialFailed = errors.New("peer dial failed")
)

// State is the manager lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Handler receives payloads published on a subscribed topic.
type Handler func(senderPeerID string, payload []byte)

// topicHandler pairs a joined topic with its reader goroutine.
type topicHandler struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cancel context.CancelFunc
}

// Options configures a Manager.
type Options struct {
	ListenAddrs []string
	MDNSTag     string
	Logger      *logrus.Logger
}

// Manager owns one local peer identity per process. EnsureReady is
// idempotent; Shutdown releases the identity so a later EnsureReady
// builds a fresh one.
type Manager struct {
	ctx  context.Context
	opts Options
	log  *logrus.Entry

	mu      sync.Mutex
	state   State
	host    host.Host
	ps      *pubsub.PubSub
	mdnsSvc mdns.Service
	topics  map[string]*topicHandler
	psCtx   context.Context
	psStop  context.CancelFunc
}

// allowPrivateGater admits all connections, including private/local
// addresses, so LAN transfers work without public reachability.
type allowPrivateGater struct{}

var _ connmgr.ConnectionGater = (*allowPrivateGater)(nil)

func (g *allowPrivateGater) InterceptPeerDial(p peer.ID) bool { return true }
func (g *allowPrivateGater) InterceptAddrDial(p peer.ID, m multiaddr.Multiaddr) bool {
	return true
}
func (g *allowPrivateGater) InterceptAccept(n network.ConnMultiaddrs) bool { return true }
func (g *allowPrivateGater) InterceptSecured(dir network.Direction, p peer.ID, n network.ConnMultiaddrs) bool {
	return true
}
func (g *allowPrivateGater) InterceptUpgraded(c network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}

// discoveryNotifee connects to peers discovered via mDNS.
type discoveryNotifee struct {
	h host.Host
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	// Best effort: a failed LAN connect just means we dial later.
	_ = n.h.Connect(context.Background(), pi)
}

// NewManager creates a Manager. The context bounds the lifetime of every
// host the manager creates.
func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if len(opts.ListenAddrs) == 0 {
		opts.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	return &Manager{
		ctx:    ctx,
		opts:   opts,
		log:    opts.Logger.WithField("component", "session"),
		topics: make(map[string]*topicHandler),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureReady brings the local endpoint up, returning its peer identity
// and listen addresses. Idempotent: a ready manager returns its cached
// identity. On failure the state returns to uninitialized for retry.
func (m *Manager) EnsureReady(ctx context.Context) (peerID string, addrs []string, err error) {
	m.mu.Lock()
	switch m.state {
	case Ready:
		id, listen := m.identityLocked()
		m.mu.Unlock()
		return id, listen, nil
	case Initializing:
		// Single-flight: EnsureReady holds the lock for the whole init,
		// so observing Initializing here means a reentrant call.
		m.mu.Unlock()
		return "", nil, fmt.Errorf("%w: initialization already in progress", ErrInitFailed)
	}
	m.state = Initializing
	defer m.mu.Unlock()

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		m.state = Uninitialized
		return "", nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(m.opts.ListenAddrs...),
		libp2p.ConnectionGater(&allowPrivateGater{}),
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
	)
	if err != nil {
		m.state = Uninitialized
		return "", nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	psCtx, psStop := context.WithCancel(m.ctx)
	ps, err := pubsub.NewGossipSub(psCtx, h)
	if err != nil {
		psStop()
		h.Close()
		m.state = Uninitialized
		return "", nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	var mdnsSvc mdns.Service
	if m.opts.MDNSTag != "" {
		mdnsSvc = mdns.NewMdnsService(h, m.opts.MDNSTag, &discoveryNotifee{h: h})
		if err := mdnsSvc.Start(); err != nil {
			psStop()
			h.Close()
			m.state = Uninitialized
			return "", nil, fmt.Errorf("%w: failed to start mDNS: %v", ErrInitFailed, err)
		}
	}

	m.host = h
	m.ps = ps
	m.mdnsSvc = mdnsSvc
	m.psCtx = psCtx
	m.psStop = psStop
	m.state = Ready

	id, listen := m.identityLocked()
	m.log.WithFields(logrus.Fields{"peer_id": id, "addrs": listen}).Info("peer session ready")
	return id, listen, nil
}

// identityLocked returns the host identity. Caller holds m.mu and the
// state is Ready.
func (m *Manager) identityLocked() (string, []string) {
	addrs := m.host.Addrs()
	listen := make([]string, len(addrs))
	for i, a := range addrs {
		listen[i] = a.String()
	}
	return m.host.ID().String(), listen
}

// Dial attempts a direct connection to a remote endpoint. Failure is a
// signal to fall back to relay, not an error condition for the caller's
// overall operation.
func (m *Manager) Dial(ctx context.Context, peerIDStr, addr string) error {
	m.mu.Lock()
	h := m.host
	ready := m.state == Ready
	m.mu.Unlock()
	if !ready {
		return fmt.Errorf("%w: session not ready", ErrDialFailed)
	}

	pid, err := peer.Decode(peerIDStr)
	if err != nil {
		return fmt.Errorf("%w: invalid peer id %q: %v", ErrDialFailed, peerIDStr, err)
	}
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("%w: invalid address %q: %v", ErrDialFailed, addr, err)
	}

	if err := h.Connect(ctx, peer.AddrInfo{ID: pid, Addrs: []multiaddr.Multiaddr{maddr}}); err != nil {
		return fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	return nil
}

// Publish sends a payload on a topic. At-most-once: no acknowledgement
// or retry at this layer.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	if m.state != Ready {
		m.mu.Unlock()
		return fmt.Errorf("session not ready")
	}
	handler, exists := m.topics[topic]
	ps := m.ps
	m.mu.Unlock()

	if exists {
		return handler.topic.Publish(ctx, payload)
	}

	t, err := ps.Join(topic)
	if err != nil {
		return fmt.Errorf("failed to join topic: %w", err)
	}
	defer t.Close()
	return t.Publish(ctx, payload)
}

// Subscribe registers a handler for a topic. Idempotent: subscribing to
// an already-subscribed topic is a no-op.
func (m *Manager) Subscribe(topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Ready {
		return fmt.Errorf("session not ready")
	}
	if _, exists := m.topics[topic]; exists {
		return nil
	}

	t, err := m.ps.Join(topic)
	if err != nil {
		return fmt.Errorf("failed to join topic: %w", err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		t.Close()
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	ctx, cancel := context.WithCancel(m.psCtx)
	th := &topicHandler{topic: t, sub: sub, cancel: cancel}
	m.topics[topic] = th

	go m.readFromTopic(ctx, topic, th, handler)
	return nil
}

// Unsubscribe removes a topic subscription. Idempotent.
func (m *Manager) Unsubscribe(topic string) error {
	m.mu.Lock()
	th, exists := m.topics[topic]
	if exists {
		delete(m.topics, topic)
	}
	m.mu.Unlock()

	if exists {
		th.cancel()
		th.sub.Cancel()
		th.topic.Close()
	}
	return nil
}

func (m *Manager) readFromTopic(ctx context.Context, topic string, th *topicHandler, handler Handler) {
	selfID := ""
	m.mu.Lock()
	if m.host != nil {
		selfID = m.host.ID().String()
	}
	m.mu.Unlock()

	for {
		msg, err := th.sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				m.log.WithField("topic", topic).WithError(err).Debug("topic reader stopped")
			}
			return
		}
		sender := msg.GetFrom().String()
		if sender == selfID {
			continue
		}
		handler(sender, msg.Data)
	}
}

// Shutdown tears the local endpoint down and returns the manager to
// uninitialized. Safe to call on an uninitialized manager.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Ready {
		m.state = Uninitialized
		return nil
	}

	for topic, th := range m.topics {
		th.cancel()
		th.sub.Cancel()
		th.topic.Close()
		delete(m.topics, topic)
	}
	if m.psStop != nil {
		m.psStop()
	}
	if m.mdnsSvc != nil {
		_ = m.mdnsSvc.Close()
	}
	err := m.host.Close()

	m.host = nil
	m.ps = nil
	m.mdnsSvc = nil
	m.state = Uninitialized

	m.log.Info("peer session shut down")
	return err
}

// WaitForMesh blocks until the topic has at least one remote peer or the
// timeout elapses. Publish on a gossip mesh with no peers is a silent
// drop; senders call this before notifying a just-dialed receiver.
func (m *Manager) WaitForMesh(ctx context.Context, topic string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		ready := m.state == Ready
		var n int
		if ready {
			n = len(m.ps.ListPeers(topic))
		}
		m.mu.Unlock()
		if !ready {
			return false
		}
		if n > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}
