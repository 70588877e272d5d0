package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient is one connected real-time channel.
type wsClient struct {
	conn   *websocket.Conn
	server *Server
	log    *logrus.Entry

	sendCh  chan protocol.Event
	closeCh chan struct{}

	mu     sync.Mutex
	closed bool
	peerID string
}

var _ EventSink = (*wsClient)(nil)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{
		conn:    conn,
		server:  s,
		log:     s.log.WithField("remote", conn.RemoteAddr().String()),
		sendCh:  make(chan protocol.Event, 100),
		closeCh: make(chan struct{}),
	}

	c.log.Info("socket connected")
	go c.readPump()
	go c.writePump()
}

// Send queues an event for delivery to the client.
func (c *wsClient) Send(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.sendCh <- ev:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.closeCh)
	c.conn.Close()

	// Mark the bound peer offline and announce it.
	if peerID, ok := c.server.registry.Unbind(c); ok {
		c.server.sessions.DropForPeer(peerID)
		c.log.WithField("peer_id", peerID).Info("peer marked offline")
		c.server.registry.Broadcast(protocol.NewEvent(protocol.EventPeerDisconnected,
			protocol.PeerDisconnected{PeerID: peerID}))
	}
	c.log.Info("socket disconnected")
}

func (c *wsClient) readPump() {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.WithError(err).Warn("malformed event")
			continue
		}
		c.dispatch(ev)
	}
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.closeCh:
			return
		case ev := <-c.sendCh:
			data, err := json.Marshal(ev)
			if err != nil {
				c.log.WithError(err).Error("failed to marshal event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) dispatch(ev protocol.Event) {
	switch ev.Event {
	case protocol.EventRegisterSocket:
		var req protocol.RegisterSocket
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.PeerID == "" {
			c.log.Warn("invalid register_socket payload")
			return
		}
		if !c.server.registry.Bind(req.PeerID, c) {
			c.log.WithField("peer_id", req.PeerID).Warn("register_socket for unknown peer")
			return
		}
		c.mu.Lock()
		c.peerID = req.PeerID
		c.mu.Unlock()
		c.log.WithField("peer_id", req.PeerID).Info("socket registered")

	case protocol.EventPeerSignal:
		var sig protocol.PeerSignal
		if err := json.Unmarshal(ev.Data, &sig); err != nil {
			c.log.Warn("invalid peer_signal payload")
			return
		}
		c.forwardSignal(sig)

	case protocol.EventRelayChunk:
		var chunk protocol.RelayChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			c.log.Warn("invalid relay_chunk payload")
			return
		}
		c.relayChunk(chunk)

	default:
		c.log.WithField("event", ev.Event).Debug("unhandled event")
	}
}

// forwardSignal delivers a signaling payload to the target's bound
// channel. An unreachable target opens a relay session instead; the
// sender learns the session id through relay_initiated.
func (c *wsClient) forwardSignal(sig protocol.PeerSignal) {
	if sink, ok := c.server.registry.SinkFor(sig.TargetPeerID); ok {
		c.server.notify(sink, protocol.NewEvent(protocol.EventPeerSignal, protocol.PeerSignal{
			SenderPeerID: sig.SenderPeerID,
			Signal:       sig.Signal,
		}))
		return
	}

	sessionID := c.server.sessions.Initiate(sig.SenderPeerID, sig.TargetPeerID)
	c.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"target":     sig.TargetPeerID,
	}).Info("target unavailable, relay initiated")

	if err := c.Send(protocol.NewEvent(protocol.EventRelayInitiated, protocol.RelayInitiated{
		SessionID:    sessionID,
		TargetPeerID: sig.TargetPeerID,
	})); err != nil {
		c.log.WithError(err).Debug("relay_initiated send failed")
	}
}

// relayChunk forwards a chunk to the session's receiving participant.
// The server never reorders; the receiver reassembles by index.
func (c *wsClient) relayChunk(chunk protocol.RelayChunk) {
	sess, ok := c.server.sessions.Get(chunk.SessionID)
	if !ok {
		c.log.WithField("session_id", chunk.SessionID).Warn("relay_chunk for unknown session")
		return
	}

	sink, ok := c.server.registry.SinkFor(sess.ReceiverPeerID)
	if !ok {
		c.log.WithField("session_id", chunk.SessionID).Debug("receiver offline, chunk dropped")
		return
	}
	c.server.notify(sink, protocol.NewEvent(protocol.EventRelayChunk, chunk))

	if chunk.Index == chunk.Total-1 {
		c.server.sessions.MarkCompleted(chunk.SessionID)
		c.server.sessions.Drop(chunk.SessionID)
	}
}
