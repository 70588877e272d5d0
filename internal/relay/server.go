package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/config"
	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

// Server is the signaling/relay server process: the REST surface, the
// real-time channel, and the shared per-user peer nodes.
type Server struct {
	cfg      config.ServerConfig
	log      *logrus.Entry
	serverID string

	registry  *Registry
	transfers *TransferBook
	sessions  *Sessions
	nodes     *Nodes

	httpServer *http.Server
}

// NewServer wires the server from configuration. The context bounds the
// lifetime of the per-user peer nodes.
func NewServer(ctx context.Context, cfg config.ServerConfig, nodeAddrs []string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		cfg:       cfg,
		log:       logger.WithField("component", "server"),
		serverID:  uuid.NewString(),
		registry:  NewRegistry(cfg.HeartbeatGrace.Duration, logger),
		transfers: NewTransferBook(cfg.UploadDir, logger),
		sessions:  NewSessions(),
		nodes:     NewNodes(ctx, nodeAddrs, logger),
	}
}

// Router builds the chi router with all routes configured.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Post("/connect", s.handleConnect)
	r.Post("/heartbeat/{peerID}", s.handleHeartbeat)
	r.Get("/peers", s.handlePeers)
	r.Post("/disconnect/{peerID}", s.handleDisconnect)

	r.Post("/request-transfer", s.handleRequestTransfer)
	r.Post("/approve-transfer/{requestID}", s.handleApproveTransfer)
	r.Post("/upload/{transferID}", s.handleUpload)
	r.Get("/download/{transferID}", s.handleDownload)
	r.Get("/transfer-status/{transferID}", s.handleTransferStatus)
	r.Post("/update-transfer-status/{transferID}", s.handleUpdateTransferStatus)
	r.Post("/cancel-transfer/{transferID}", s.handleCancelTransfer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/node/init", s.handleNodeInit)
		r.Post("/peer/connect", s.handlePeerConnect)
		r.Post("/peer/send", s.handlePeerSend)
	})

	r.Get("/ws", s.handleWS)

	return r
}

// Start serves HTTP until the context is cancelled, running the
// heartbeat reaper alongside.
func (s *Server) Start(ctx context.Context) error {
	go s.registry.Run(ctx, s.cfg.ReaperInterval.Duration)

	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.ListenAddr).Info("signaling server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.nodes.Shutdown()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, protocol.StatusResponse{
		Status:          "online",
		ServerID:        s.serverID,
		ConnectedPeers:  s.registry.Count(),
		ActiveTransfers: s.transfers.ActiveCount(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req protocol.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	peerID := s.registry.Connect(req.UserID)
	respondJSON(w, http.StatusOK, protocol.ConnectResponse{
		Status:   "connected",
		PeerID:   peerID,
		ServerID: s.serverID,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerID")
	if !s.registry.Heartbeat(peerID) {
		respondError(w, http.StatusNotFound, "peer not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, protocol.PeersResponse{
		Peers: s.registry.Peers(r.URL.Query().Get("user_id")),
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerID")
	if !s.registry.Disconnect(peerID) {
		respondError(w, http.StatusNotFound, "peer not found")
		return
	}
	s.log.WithField("peer_id", peerID).Info("peer disconnected")
	respondJSON(w, http.StatusOK, protocol.DisconnectResponse{
		Status: "disconnected",
		PeerID: peerID,
	})
}

func (s *Server) handleRequestTransfer(w http.ResponseWriter, r *http.Request) {
	var req protocol.TransferRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SenderID == "" || req.ReceiverID == "" || req.FileName == "" {
		respondError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	requestID := s.transfers.Request(req.SenderID, req.ReceiverID, req.FileName)

	// Tell the receiver right away when a channel is bound.
	_, sink, online := s.registry.OnlinePeerForUser(req.ReceiverID)
	if online && sink != nil {
		s.notify(sink, protocol.NewEvent(protocol.EventTransferRequest, protocol.TransferRequestEvent{
			RequestID: requestID,
			SenderID:  req.SenderID,
			FileName:  req.FileName,
		}))
	}

	respondJSON(w, http.StatusOK, protocol.TransferRequestResponse{
		Status:         "pending",
		RequestID:      requestID,
		ReceiverOnline: online,
	})
}

func (s *Server) handleApproveTransfer(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	transferID, senderID, err := s.transfers.Approve(requestID)
	if err != nil {
		respondError(w, http.StatusNotFound, "transfer request not found")
		return
	}

	_, sink, online := s.registry.OnlinePeerForUser(senderID)
	if online && sink != nil {
		s.notify(sink, protocol.NewEvent(protocol.EventTransferApproved, protocol.TransferApprovedEvent{
			RequestID:  requestID,
			TransferID: transferID,
		}))
	}

	respondJSON(w, http.StatusOK, protocol.ApproveResponse{
		Status:       "approved",
		TransferID:   transferID,
		SenderOnline: online,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "no file part")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		respondError(w, http.StatusBadRequest, "no selected file")
		return
	}

	if err := s.transfers.SaveUpload(transferID, header.Filename, file); err != nil {
		if errors.Is(err, ErrUnknownTransfer) {
			respondError(w, http.StatusNotFound, "transfer not found or not approved")
			return
		}
		s.log.WithError(err).Error("upload failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, _ := s.transfers.Status(transferID)
	_, sink, online := s.registry.OnlinePeerForUser(status.ReceiverID)
	if online && sink != nil {
		s.notify(sink, protocol.NewEvent(protocol.EventTransferCompleted, protocol.TransferCompletedEvent{
			TransferID:   transferID,
			FileName:     header.Filename,
			TransferMode: ModeServerRelay,
		}))
	}

	respondJSON(w, http.StatusOK, protocol.UploadResponse{
		Status:     "completed",
		TransferID: transferID,
		FileName:   header.Filename,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	path, err := s.transfers.FilePath(transferID)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			respondError(w, http.StatusBadRequest, "file not ready for download")
			return
		}
		respondError(w, http.StatusNotFound, "transfer not found")
		return
	}

	s.log.WithField("transfer_id", transferID).Info("file download initiated")
	w.Header().Set("Content-Disposition", "attachment")
	http.ServeFile(w, r, path)
}

func (s *Server) handleTransferStatus(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	status, err := s.transfers.Status(transferID)
	if err != nil {
		respondError(w, http.StatusNotFound, "transfer not found")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleUpdateTransferStatus(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	var req protocol.UpdateTransferStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		respondError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	senderID, receiverID, err := s.transfers.Update(transferID, req.Status, req.Progress)
	if err != nil {
		respondError(w, http.StatusNotFound, "transfer not found")
		return
	}

	if req.Status == "completed" {
		ev := protocol.NewEvent(protocol.EventTransferCompleted, protocol.TransferCompletedEvent{
			TransferID:   transferID,
			TransferMode: ModeP2P,
		})
		s.notifyUsers(ev, senderID, receiverID)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	senderID, receiverID, err := s.transfers.Cancel(transferID)
	if err != nil {
		respondError(w, http.StatusNotFound, "transfer not found")
		return
	}

	ev := protocol.NewEvent(protocol.EventTransferCancelled, protocol.TransferCancelledEvent{
		TransferID: transferID,
	})
	s.notifyUsers(ev, senderID, receiverID)

	respondJSON(w, http.StatusOK, protocol.CancelResponse{
		Status:     "cancelled",
		TransferID: transferID,
	})
}

func (s *Server) handleNodeInit(w http.ResponseWriter, r *http.Request) {
	var req protocol.NodeInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	peerID, addrs, err := s.nodes.Init(r.Context(), req.UserID)
	if err != nil {
		s.log.WithError(err).Error("node init failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, protocol.NodeInitResponse{
		PeerID:    peerID,
		Addresses: addrs,
	})
}

func (s *Server) handlePeerConnect(w http.ResponseWriter, r *http.Request) {
	var req protocol.PeerConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.UserID == "" || req.PeerID == "" || req.Multiaddr == "" {
		respondError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	if err := s.nodes.Connect(r.Context(), req.UserID, req.PeerID, req.Multiaddr); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) handlePeerSend(w http.ResponseWriter, r *http.Request) {
	var req protocol.PeerSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.UserID == "" || req.Topic == "" {
		respondError(w, http.StatusBadRequest, "missing required parameters")
		return
	}

	if err := s.nodes.Send(r.Context(), req.UserID, req.Topic, []byte(req.Data)); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) notify(sink EventSink, ev protocol.Event) {
	if err := sink.Send(ev); err != nil {
		s.log.WithError(err).WithField("event", ev.Event).Debug("notify failed")
	}
}

func (s *Server) notifyUsers(ev protocol.Event, userIDs ...string) {
	for _, userID := range userIDs {
		if _, sink, ok := s.registry.OnlinePeerForUser(userID); ok && sink != nil {
			s.notify(sink, ev)
		}
	}
}
