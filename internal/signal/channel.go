package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

// Handlers receives events pushed by the server. Nil fields are
// ignored. Handlers run on the channel's read goroutine, so they must
// not block.
type Handlers struct {
	PeerSignal        func(protocol.PeerSignal)
	RelayInitiated    func(protocol.RelayInitiated)
	RelayChunk        func(protocol.RelayChunk)
	TransferRequest   func(protocol.TransferRequestEvent)
	TransferApproved  func(protocol.TransferApprovedEvent)
	TransferCompleted func(protocol.TransferCompletedEvent)
	TransferCancelled func(protocol.TransferCancelledEvent)
	PeerDisconnected  func(protocol.PeerDisconnected)
}

// Channel is the real-time connection to the signaling server.
type Channel struct {
	conn     *websocket.Conn
	handlers Handlers
	log      *logrus.Entry

	sendCh  chan protocol.Event
	closeCh chan struct{}

	mu     sync.Mutex
	closed bool
}

// OpenChannel dials the server's real-time endpoint and binds the
// channel to the given peer identity.
func OpenChannel(ctx context.Context, serverURL, peerID string, handlers Handlers, logger *logrus.Logger) (*Channel, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	wsURL, err := channelURL(serverURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Channel{
		conn:     conn,
		handlers: handlers,
		log:      logger.WithField("component", "channel"),
		sendCh:   make(chan protocol.Event, 100),
		closeCh:  make(chan struct{}),
	}

	go c.readPump()
	go c.writePump()

	if err := c.send(protocol.NewEvent(protocol.EventRegisterSocket,
		protocol.RegisterSocket{PeerID: peerID})); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// channelURL rewrites an http(s) server URL into its ws(s) /ws endpoint.
func channelURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// SendSignal forwards an opaque signaling payload to a target peer.
func (c *Channel) SendSignal(targetPeerID, senderPeerID string, signal json.RawMessage) error {
	return c.send(protocol.NewEvent(protocol.EventPeerSignal, protocol.PeerSignal{
		TargetPeerID: targetPeerID,
		SenderPeerID: senderPeerID,
		Signal:       signal,
	}))
}

// SendChunk relays one chunk through the server.
func (c *Channel) SendChunk(chunk protocol.RelayChunk) error {
	return c.send(protocol.NewEvent(protocol.EventRelayChunk, chunk))
}

// RelayFile streams a payload through a relay session in fixed-size
// chunks, index order 0..n-1.
func (c *Channel) RelayFile(sessionID string, r io.Reader, size int64, chunkSize int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	total := int((size + int64(chunkSize) - 1) / int64(chunkSize))
	if total == 0 {
		total = 1
	}

	buf := make([]byte, chunkSize)
	for index := 0; index < total; index++ {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return fmt.Errorf("failed to read chunk %d: %w", index, err)
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		if err := c.SendChunk(protocol.RelayChunk{
			SessionID: sessionID,
			Chunk:     chunk,
			Index:     index,
			Total:     total,
		}); err != nil {
			return fmt.Errorf("failed to relay chunk %d: %w", index, err)
		}
	}
	return nil
}

// Close shuts the channel down. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.closeCh)
	return c.conn.Close()
}

func (c *Channel) send(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("channel closed")
	}
	select {
	case c.sendCh <- ev:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *Channel) readPump() {
	defer c.Close()

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

func (c *Channel) writePump() {
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
				c.Close()
				return
			}
		}
	}
}

func (c *Channel) dispatch(ev protocol.Event) {
	switch ev.Event {
	case protocol.EventPeerSignal:
		decodeAndCall(c, ev, c.handlers.PeerSignal)
	case protocol.EventRelayInitiated:
		decodeAndCall(c, ev, c.handlers.RelayInitiated)
	case protocol.EventRelayChunk:
		decodeAndCall(c, ev, c.handlers.RelayChunk)
	case protocol.EventTransferRequest:
		decodeAndCall(c, ev, c.handlers.TransferRequest)
	case protocol.EventTransferApproved:
		decodeAndCall(c, ev, c.handlers.TransferApproved)
	case protocol.EventTransferCompleted:
		decodeAndCall(c, ev, c.handlers.TransferCompleted)
	case protocol.EventTransferCancelled:
		decodeAndCall(c, ev, c.handlers.TransferCancelled)
	case protocol.EventPeerDisconnected:
		decodeAndCall(c, ev, c.handlers.PeerDisconnected)
	default:
		c.log.WithField("event", ev.Event).Debug("unhandled event")
	}
}

func decodeAndCall[T any](c *Channel, ev protocol.Event, handler func(T)) {
	if handler == nil {
		return
	}
	var payload T
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		c.log.WithError(err).WithField("event", ev.Event).Warn("malformed payload")
		return
	}
	handler(payload)
}
