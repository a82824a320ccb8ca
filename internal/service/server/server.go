package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"snapsafe/internal/cryptographic/jwk"
	"snapsafe/internal/model"
	"snapsafe/internal/repository"
	"snapsafe/internal/utils/log"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MaxBodyBytes caps request bodies; photos travel inline as base64.
const MaxBodyBytes = 10 << 20

type (
	Directory interface {
		Upsert(ctx context.Context, identity string, publicKey json.RawMessage) (bool, error)
		Lookup(ctx context.Context, identity string) (*model.DirectoryEntry, error)
	}

	Mailbox interface {
		Append(ctx context.Context, e *model.Envelope) error
		DrainAll(ctx context.Context, recipientID string) ([]*model.Envelope, error)
	}

	HttpServer struct {
		directory Directory
		mailbox   Mailbox
		hub       *Hub
		srv       *http.Server
	}
)

func NewHttpServer(directory Directory, mailbox Mailbox) *HttpServer {
	return &HttpServer{
		directory: directory,
		mailbox:   mailbox,
		hub:       NewHub(),
	}
}

func (s *HttpServer) Hub() *Hub {
	return s.hub
}

// Router serves every route at the root and again under /api.
func (s *HttpServer) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	s.routes(r)
	s.routes(r.PathPrefix("/api").Subrouter())
	return r
}

func (s *HttpServer) routes(r *mux.Router) {
	r.HandleFunc("/keys", s.UploadPublicKey()).Methods(http.MethodPost)
	r.HandleFunc("/keys/{userId}", s.GetPublicKey()).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.PostMessage()).Methods(http.MethodPost)
	r.HandleFunc("/messages/{recipientId}", s.DrainMessages()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.HandleInitWS()).Methods(http.MethodGet)
}

// Run blocks serving on addr until Shutdown is called.
func (s *HttpServer) Run(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	log.Info("relay listening", zap.String("addr", addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *HttpServer) UploadPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req model.KeyUploadRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.UserID == "" || len(req.PublicKey) == 0 || string(req.PublicKey) == "null" {
			writeError(w, http.StatusBadRequest, "Missing fields")
			return
		}

		if _, err := jwk.ParsePublic(req.PublicKey); err != nil {
			log.Info("rejected public key upload", zap.String("userId", req.UserID), zap.Error(err))
			writeError(w, http.StatusBadRequest, "Invalid public key")
			return
		}

		replaced, err := s.directory.Upsert(ctx, req.UserID, req.PublicKey)
		if err != nil {
			log.Error("Upload public key failed", zap.String("userId", req.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to store public key")
			return
		}

		if replaced {
			// Identities are not authenticated, so any client can replace
			// another identity's key. Keep every overwrite visible.
			log.Warn("public key overwritten", zap.String("userId", req.UserID))
		}

		writeJSON(w, http.StatusCreated, &model.SuccessResponse{Success: true})
	}
}

func (s *HttpServer) GetPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		vars := mux.Vars(r)
		userID := vars["userId"]

		entry, err := s.directory.Lookup(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}

		if err != nil {
			log.Error("Get public key failed", zap.String("userId", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Get public key failed")
			return
		}

		writeJSON(w, http.StatusOK, &model.KeyResponse{PublicKey: entry.PublicKey})
	}
}

func (s *HttpServer) PostMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req model.SendMessageRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := validateBase64(req.IV, req.EncryptedKey, req.Content); err != nil {
			writeError(w, http.StatusBadRequest, "Fields iv, encryptedKey and content must be base64")
			return
		}

		if err := s.mailbox.Append(ctx, req.Envelope()); err != nil {
			log.Error("Store message failed",
				zap.String("senderId", req.SenderID),
				zap.String("recipientId", req.RecipientID),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to store message")
			return
		}

		s.hub.Notify(req.RecipientID)
		writeJSON(w, http.StatusOK, &model.SuccessResponse{Success: true})
	}
}

// DrainMessages hands over and deletes everything queued for the
// recipient. Delivery is at-most-once: a response lost in transit is not
// retried by the server.
func (s *HttpServer) DrainMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		vars := mux.Vars(r)
		recipientID := vars["recipientId"]

		envelopes, err := s.mailbox.DrainAll(ctx, recipientID)
		if err != nil {
			log.Error("Drain messages failed", zap.String("recipientId", recipientID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
			return
		}

		if len(envelopes) == 0 {
			writeError(w, http.StatusNotFound, "No messages")
			return
		}

		res := make([]*model.InboundMessage, 0, len(envelopes))
		for _, e := range envelopes {
			res = append(res, model.NewInboundMessage(e))
		}

		log.Debug("drained mailbox", zap.String("recipientId", recipientID), zap.Int("count", len(res)))
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userID")
		if userID == "" {
			http.Error(w, "userID cannot be empty", http.StatusBadRequest)
			return
		}

		if s.hub.Connected(userID) {
			http.Error(w, errDuplicateUser.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &wsClient{
			hub:    s.hub,
			userID: userID,
			conn:   conn,
			send:   make(chan *model.Notification, sendBuffer),
		}
		if err := s.hub.register(c); err != nil {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			conn.Close()
			return
		}

		log.Debug("notification socket opened", zap.String("userID", userID))
		go c.writePump()
		go c.readPump()
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func validateBase64(fields ...string) error {
	for _, f := range fields {
		if _, err := base64.StdEncoding.DecodeString(f); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &model.ErrorResponse{Error: msg})
}
