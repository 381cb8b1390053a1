package gateway

import (
	"context"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/coopsync/go/internal/room/registry"
)

// Service is the room gateway: it exposes the registry over SSE, WebSocket,
// plain HTTP and connect RPC
type Service struct {
	config      Config
	registry    *registry.Registry
	connections *ConnectionManager
	rpc         *RoomServiceHandler
}

// NewService creates a gateway and the registry behind it. opts are applied
// after the options derived from config.
func NewService(config Config, opts ...registry.Option) *Service {
	regOpts := []registry.Option{
		registry.WithPolicy(config.Policy.Registry()),
		registry.WithDefaultDuration(config.DefaultTimerDuration),
		registry.WithIdleTTL(config.IdleRoomTTL),
	}
	reg := registry.New(append(regOpts, opts...)...)

	return &Service{
		config:      config,
		registry:    reg,
		connections: NewConnectionManager(reg, config.Connection, config.SubscriberBuffer),
		rpc:         NewRoomServiceHandler(reg),
	}
}

// Registry returns the registry served by the gateway
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Start runs background maintenance until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	s.registry.Run(ctx, s.config.SweepInterval)

	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop reports the final registry state. Open streams end when the HTTP
// server shuts down.
func (s *Service) Stop() error {
	stats := s.registry.Stats()
	log.Info().
		Int("active_rooms", stats.Rooms).
		Int("total_connections", stats.Subscribers).
		Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/signal", s.HandleSignal)
	mux.HandleFunc("GET /api/rooms", s.HandleGetRooms)
	mux.HandleFunc("GET /api/rooms/{roomID}/events", s.HandleRoomEvents)
	mux.HandleFunc("POST /api/rooms/{roomID}/messages", s.HandleRoomMessage)
	mux.HandleFunc("GET /api/rooms/{roomID}/state", s.HandleGetRoomState)
	mux.HandleFunc("GET /api/rooms/{roomID}/qr.png", s.HandleRoomQR)
	mux.HandleFunc("GET /ws/room", s.connections.HandleRoomConnection)
	mux.Handle(s.rpc.Path())
	mux.HandleFunc("GET /health", HandleHealth)
	log.Info().Msg("room gateway routes registered")
}

// Handler returns every route wrapped with CORS and cleartext HTTP/2
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}
