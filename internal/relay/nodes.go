package relay

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/session"
)

// Nodes manages one shared peer node per user identity. Nodes are
// created lazily on first init and live for the server process
// lifetime; concurrent devices for the same user share one node.
type Nodes struct {
	ctx         context.Context
	listenAddrs []string
	logger      *logrus.Logger
	log         *logrus.Entry

	mu    sync.Mutex
	nodes map[string]*session.Manager
}

// NewNodes creates the node manager. The context bounds every node's
// lifetime.
func NewNodes(ctx context.Context, listenAddrs []string, logger *logrus.Logger) *Nodes {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Nodes{
		ctx:         ctx,
		listenAddrs: listenAddrs,
		logger:      logger,
		log:         logger.WithField("component", "nodes"),
		nodes:       make(map[string]*session.Manager),
	}
}

// node returns the user's manager, creating the entry if needed. The
// manager itself serializes initialization, so two concurrent Init
// calls for the same user yield exactly one running node.
func (n *Nodes) node(userID string) *session.Manager {
	n.mu.Lock()
	defer n.mu.Unlock()

	mgr, ok := n.nodes[userID]
	if !ok {
		mgr = session.NewManager(n.ctx, session.Options{
			ListenAddrs: n.listenAddrs,
			Logger:      n.logger,
		})
		n.nodes[userID] = mgr
	}
	return mgr
}

// Init lazily creates or returns the user's shared node identity.
func (n *Nodes) Init(ctx context.Context, userID string) (peerID string, addrs []string, err error) {
	peerID, addrs, err = n.node(userID).EnsureReady(ctx)
	if err != nil {
		return "", nil, err
	}
	n.log.WithFields(logrus.Fields{"user_id": userID, "peer_id": peerID}).Info("node ready")
	return peerID, addrs, nil
}

// Connect instructs the user's node to dial an address. The node is
// brought up first if it is not running.
func (n *Nodes) Connect(ctx context.Context, userID, peerID, addr string) error {
	mgr := n.node(userID)
	if _, _, err := mgr.EnsureReady(ctx); err != nil {
		return err
	}
	return mgr.Dial(ctx, peerID, addr)
}

// Send subscribes the user's node to the topic if it is not already,
// then publishes the payload on it.
func (n *Nodes) Send(ctx context.Context, userID, topic string, data []byte) error {
	mgr := n.node(userID)
	if _, _, err := mgr.EnsureReady(ctx); err != nil {
		return err
	}

	log := n.log.WithFields(logrus.Fields{"user_id": userID, "topic": topic})
	if err := mgr.Subscribe(topic, func(sender string, payload []byte) {
		log.WithField("from", sender).Debug("topic message received")
	}); err != nil {
		return err
	}
	return mgr.Publish(ctx, topic, data)
}

// Shutdown tears down every node.
func (n *Nodes) Shutdown() {
	n.mu.Lock()
	nodes := make([]*session.Manager, 0, len(n.nodes))
	for _, mgr := range n.nodes {
		nodes = append(nodes, mgr)
	}
	n.nodes = make(map[string]*session.Manager)
	n.mu.Unlock()

	for _, mgr := range nodes {
		if err := mgr.Shutdown(); err != nil {
			n.log.WithError(err).Warn("node shutdown failed")
		}
	}
}
