// Package signal is the client for the signaling/relay server: peer
// registration with heartbeats, transfer brokering over REST, and the
// real-time channel used for signaling and chunk relay.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

// ErrServerUnreachable means the signaling server did not answer even
// after the wake/retry sequence.
var ErrServerUnreachable = errors.New("signaling server unreachable")

// wakeDelay is how long Connect waits between the wake ping and the
// retry. Free-tier hosts sleep and need a moment to spin up.
const wakeDelay = 2 * time.Second

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	Heartbeat time.Duration
	Logger    *logrus.Logger
}

// Client talks to the signaling server. Connect registers a peer
// identity; the rest of the surface requires it.
type Client struct {
	baseURL   string
	http      *http.Client
	heartbeat time.Duration
	log       *logrus.Entry

	mu     sync.Mutex
	peerID string
	userID string
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: opts.Timeout},
		heartbeat: opts.Heartbeat,
		log:       opts.Logger.WithField("component", "signal"),
	}
}

// PeerID returns the registered peer identity, empty before Connect.
func (c *Client) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// ping checks the server is answering.
func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Connect registers the user with the server and returns the issued
// peer identity. A server that does not answer gets one wake ping, a
// fixed delay, and one retry before ErrServerUnreachable.
func (c *Client) Connect(ctx context.Context, userID string) (string, error) {
	if err := c.ping(ctx); err != nil {
		c.log.WithError(err).Info("server not answering, waking it")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wakeDelay):
		}
		if err := c.ping(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrServerUnreachable, err)
		}
	}

	var resp protocol.ConnectResponse
	err := c.post(ctx, "/connect", protocol.ConnectRequest{UserID: userID}, &resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}

	c.mu.Lock()
	c.peerID = resp.PeerID
	c.userID = userID
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"peer_id": resp.PeerID, "user_id": userID}).
		Info("connected to signaling server")
	return resp.PeerID, nil
}

// RunHeartbeat sends heartbeats at the configured interval until the
// context is cancelled. Call after Connect.
func (c *Client) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peerID := c.PeerID()
			if peerID == "" {
				continue
			}
			if err := c.post(ctx, "/heartbeat/"+peerID, nil, nil); err != nil {
				c.log.WithError(err).Warn("heartbeat failed")
			}
		}
	}
}

// Disconnect tells the server this peer is going offline.
func (c *Client) Disconnect(ctx context.Context) error {
	peerID := c.PeerID()
	if peerID == "" {
		return nil
	}
	return c.post(ctx, "/disconnect/"+peerID, nil, nil)
}

// Peers lists online peers, optionally filtered by user.
func (c *Client) Peers(ctx context.Context, userID string) (map[string]protocol.PeerInfo, error) {
	path := "/peers"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var resp protocol.PeersResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// RequestTransfer asks the server to broker a transfer to a receiver.
func (c *Client) RequestTransfer(ctx context.Context, senderID, receiverID, fileName string) (protocol.TransferRequestResponse, error) {
	var resp protocol.TransferRequestResponse
	err := c.post(ctx, "/request-transfer", protocol.TransferRequestBody{
		SenderID:   senderID,
		ReceiverID: receiverID,
		FileName:   fileName,
	}, &resp)
	return resp, err
}

// ApproveTransfer approves a brokered transfer request.
func (c *Client) ApproveTransfer(ctx context.Context, requestID string) (protocol.ApproveResponse, error) {
	var resp protocol.ApproveResponse
	err := c.post(ctx, "/approve-transfer/"+requestID, nil, &resp)
	return resp, err
}

// Upload pushes a file through the server, the store-and-forward path
// used when neither direct dial nor relay chunking succeeds.
func (c *Client) Upload(ctx context.Context, transferID, filePath string) (protocol.UploadResponse, error) {
	var resp protocol.UploadResponse

	f, err := os.Open(filePath)
	if err != nil {
		return resp, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return resp, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return resp, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	if err := mw.Close(); err != nil {
		return resp, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/"+transferID, &body)
	if err != nil {
		return resp, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()
	if err := decodeResponse(httpResp, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Download pulls a stored file for a transfer and writes it to dest.
func (c *Client) Download(ctx context.Context, transferID, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+transferID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return out.Close()
}

// TransferStatus fetches the server's view of a transfer.
func (c *Client) TransferStatus(ctx context.Context, transferID string) (protocol.TransferStatus, error) {
	var resp protocol.TransferStatus
	err := c.get(ctx, "/transfer-status/"+transferID, &resp)
	return resp, err
}

// UpdateTransferStatus reports this peer's progress to the server.
func (c *Client) UpdateTransferStatus(ctx context.Context, transferID, status string, progress float64) error {
	return c.post(ctx, "/update-transfer-status/"+transferID, protocol.UpdateTransferStatusRequest{
		Status:   status,
		Progress: progress,
	}, nil)
}

// CancelTransfer cancels a brokered transfer.
func (c *Client) CancelTransfer(ctx context.Context, transferID string) error {
	return c.post(ctx, "/cancel-transfer/"+transferID, nil, nil)
}

// NodeInit lazily creates or returns this user's shared server-side
// node.
func (c *Client) NodeInit(ctx context.Context, userID string) (protocol.NodeInitResponse, error) {
	var resp protocol.NodeInitResponse
	err := c.post(ctx, "/api/node/init", protocol.NodeInitRequest{UserID: userID}, &resp)
	return resp, err
}

// PeerConnect asks this user's server-side node to dial an address.
func (c *Client) PeerConnect(ctx context.Context, userID, peerID, multiaddr string) error {
	return c.post(ctx, "/api/peer/connect", protocol.PeerConnectRequest{
		UserID:    userID,
		PeerID:    peerID,
		Multiaddr: multiaddr,
	}, nil)
}

// PeerSend publishes data on a topic through this user's server-side
// node.
func (c *Client) PeerSend(ctx context.Context, userID, topic, data string) error {
	return c.post(ctx, "/api/peer/send", protocol.PeerSendRequest{
		UserID: userID,
		Topic:  topic,
		Data:   data,
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr protocol.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (status %d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
