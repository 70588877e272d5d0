// Package protocol defines the wire messages shared by the signaling
// server and its clients: the REST request/response bodies and the
// event envelope carried over the real-time channel.
package protocol

import "encoding/json"

// Event names carried over the real-time channel.
const (
	EventRegisterSocket    = "register_socket"
	EventPeerSignal        = "peer_signal"
	EventRelayInitiated    = "relay_initiated"
	EventRelayChunk        = "relay_chunk"
	EventTransferRequest   = "transfer_request"
	EventTransferApproved  = "transfer_approved"
	EventTransferCompleted = "transfer_completed"
	EventTransferCancelled = "transfer_cancelled"
	EventPeerDisconnected  = "peer_disconnected"
)

// Event envelope for all real-time channel communications
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent wraps a payload in an Event envelope. Marshal errors are
// impossible for the payload structs in this package, so they panic.
func NewEvent(name string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("protocol: unmarshalable event payload: " + err.Error())
	}
	return Event{Event: name, Data: data}
}

// ErrorResponse provides standardized error structure
type ErrorResponse struct {
	Error string `json:"error"`
}

// Real-time channel payloads

// RegisterSocket binds the current channel to a registered peer identity.
type RegisterSocket struct {
	PeerID string `json:"peer_id"`
}

// PeerSignal forwards an opaque signaling payload to a target peer.
type PeerSignal struct {
	TargetPeerID string          `json:"target_peer_id,omitempty"`
	SenderPeerID string          `json:"sender_peer_id"`
	Signal       json.RawMessage `json:"signal"`
}

// RelayInitiated tells the sender a relay session was opened because
// the target peer has no bound channel.
type RelayInitiated struct {
	SessionID    string `json:"session_id"`
	TargetPeerID string `json:"target_peer_id"`
}

// RelayChunk carries one file chunk through the server. Chunk bytes
// are base64 under encoding/json's []byte rules.
type RelayChunk struct {
	SessionID string `json:"session_id"`
	Chunk     []byte `json:"chunk"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}

// TransferRequestEvent notifies the receiver of a new transfer request.
type TransferRequestEvent struct {
	RequestID string `json:"request_id"`
	SenderID  string `json:"sender_id"`
	FileName  string `json:"filename"`
}

// TransferApprovedEvent notifies the sender an approval happened.
type TransferApprovedEvent struct {
	RequestID  string `json:"request_id"`
	TransferID string `json:"transfer_id"`
}

// TransferCompletedEvent notifies participants a transfer finished.
type TransferCompletedEvent struct {
	TransferID   string `json:"transfer_id"`
	FileName     string `json:"filename,omitempty"`
	TransferMode string `json:"transfer_mode"`
}

// TransferCancelledEvent notifies participants a transfer was cancelled.
type TransferCancelledEvent struct {
	TransferID string `json:"transfer_id"`
}

// PeerDisconnected announces a peer going offline.
type PeerDisconnected struct {
	PeerID string `json:"peer_id"`
}

// REST bodies

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Status          string `json:"status"`
	ServerID        string `json:"server_id"`
	ConnectedPeers  int    `json:"connected_peers"`
	ActiveTransfers int    `json:"active_transfers"`
}

// ConnectRequest registers an ephemeral peer identity for a user.
type ConnectRequest struct {
	UserID string `json:"user_id"`
}

// ConnectResponse carries the issued peer identity.
type ConnectResponse struct {
	Status   string `json:"status"`
	PeerID   string `json:"peer_id"`
	ServerID string `json:"server_id"`
}

// PeerInfo describes one registered peer in GET /peers responses.
type PeerInfo struct {
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	ConnectedAt string `json:"connected_at"`
	LastSeen    string `json:"last_seen"`
}

// PeersResponse is returned by GET /peers.
type PeersResponse struct {
	Peers map[string]PeerInfo `json:"peers"`
}

// TransferRequestBody asks the server to broker a new transfer.
type TransferRequestBody struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	FileName   string `json:"filename"`
}

// TransferRequestResponse carries the brokered request identity.
type TransferRequestResponse struct {
	Status         string `json:"status"`
	RequestID      string `json:"request_id"`
	ReceiverOnline bool   `json:"receiver_online"`
}

// ApproveResponse is returned by POST /approve-transfer/{id}.
type ApproveResponse struct {
	Status       string `json:"status"`
	TransferID   string `json:"transfer_id"`
	SenderOnline bool   `json:"sender_online"`
}

// UploadResponse is returned by POST /upload/{id}.
type UploadResponse struct {
	Status     string `json:"status"`
	TransferID string `json:"transfer_id"`
	FileName   string `json:"filename"`
}

// TransferStatus is returned by GET /transfer-status/{id}.
type TransferStatus struct {
	RequestID    string  `json:"request_id"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	SenderID     string  `json:"sender_id"`
	ReceiverID   string  `json:"receiver_id"`
	FileName     string  `json:"filename"`
	TransferMode string  `json:"transfer_mode"`
}

// UpdateTransferStatusRequest reports peer-side progress for a transfer.
type UpdateTransferStatusRequest struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// CancelResponse is returned by POST /cancel-transfer/{id}.
type CancelResponse struct {
	Status     string `json:"status"`
	TransferID string `json:"transfer_id"`
}

// DisconnectResponse is returned by POST /disconnect/{id}.
type DisconnectResponse struct {
	Status string `json:"status"`
	PeerID string `json:"peer_id"`
}

// Node management bodies (the libp2p surface)

// NodeInitRequest lazily creates or returns the caller's shared node.
type NodeInitRequest struct {
	UserID string `json:"user_id"`
}

// NodeInitResponse carries the node's identity and listen addresses.
type NodeInitResponse struct {
	PeerID    string   `json:"peer_id"`
	Addresses []string `json:"addresses"`
}

// PeerConnectRequest instructs a user's node to dial an address.
type PeerConnectRequest struct {
	UserID    string `json:"user_id"`
	PeerID    string `json:"peer_id"`
	Multiaddr string `json:"multiaddr"`
}

// PeerSendRequest subscribes the node to a topic if needed, then
// publishes data on it.
type PeerSendRequest struct {
	UserID string `json:"user_id"`
	PeerID string `json:"peer_id"`
	Topic  string `json:"topic"`
	Data   string `json:"data"`
}
