package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Config configures the gateway server
type Config struct {
	Host  string
	Port  int
	Token string

	// Metrics, when set, is served at /metrics
	Metrics http.Handler
}

// command is one inbound client message
type command struct {
	Type string `json:"type"`
}

// Server accepts WebSocket clients and streams session events to them.
// Clients may send {"type":"interrupt"} to abort the active turn.
type Server struct {
	config      Config
	clients     *ClientRegistry
	broadcaster *Broadcaster
	onInterrupt func()
	upgrader    websocket.Upgrader
	server      *http.Server
}

// NewServer creates a gateway server. onInterrupt may be nil.
func NewServer(config Config, onInterrupt func()) *Server {
	clients := NewClientRegistry()
	return &Server{
		config:      config,
		clients:     clients,
		broadcaster: NewBroadcaster(clients),
		onInterrupt: onInterrupt,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Broadcaster returns the event sink backed by this server's clients
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Start begins listening; it does not block
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.config.Metrics != nil {
		mux.Handle("/metrics", s.config.Metrics)
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler: mux,
	}

	log.Info().Str("addr", s.server.Addr).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop closes all client connections and shuts the server down
func (s *Server) Stop() error {
	log.Info().Msg("Shutting down gateway server")

	for _, client := range s.clients.GetAll() {
		client.Close()
		s.clients.Remove(client.ID)
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.Token != "" && r.URL.Query().Get("token") != s.config.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(uuid.New().String(), conn)
	s.clients.Add(client)

	log.Info().
		Str("client_id", client.ID).
		Int("clients", s.clients.Count()).
		Msg("Client connected")

	go s.readLoop(client, conn)
}

// readLoop consumes inbound messages until the connection drops
func (s *Server) readLoop(client *Client, conn *websocket.Conn) {
	defer func() {
		s.clients.Remove(client.ID)
		conn.Close()
		log.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.clients.UpdateActivity(client.ID)

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warn().Str("client_id", client.ID).Err(err).Msg("Ignoring malformed client message")
			continue
		}

		if cmd.Type == "interrupt" && s.onInterrupt != nil {
			log.Info().Str("client_id", client.ID).Msg("Interrupt requested by client")
			s.onInterrupt()
		}
	}
}
