package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/keyrace/keyrace/internal/race"
	"github.com/rs/zerolog/log"
)

// Service composes the connection manager and the message handler into the
// WebSocket-facing surface of the server.
type Service struct {
	cm      *ConnectionManager
	handler *Handler
}

// NewService wires a connection manager to a room registry. The connection
// manager is passed in already constructed because the registry needs it as
// a broadcaster before the handler can exist.
func NewService(cm *ConnectionManager, registry *race.Registry) *Service {
	handler := NewHandler(registry, cm)
	cm.SetRouter(handler)
	return &Service{
		cm:      cm,
		handler: handler,
	}
}

// Start runs the broadcast loop until the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.cm.Start(ctx)
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleConnection)
	mux.HandleFunc("/ws/stats", s.handleStats)
	log.Info().Msg("gateway routes registered")
}

func (s *Service) handleConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.cm.UpgradeConnection(w, r); err != nil {
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := s.cm.Stats()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total_connections":%d,"active_rooms":%d}`, total, rooms)
}
