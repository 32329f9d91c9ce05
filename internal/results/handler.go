package results

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/keyrace/keyrace/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// LeaderboardStore is what the leaderboard handler needs from storage.
type LeaderboardStore interface {
	TopResults(ctx context.Context, roomID string, limit int) ([]models.GameResult, error)
}

// LeaderboardHandler serves the leaderboard read API: persisted results
// filtered by optional room id, sorted by wpm descending.
type LeaderboardHandler struct {
	store LeaderboardStore
}

// NewLeaderboardHandler creates a leaderboard handler.
func NewLeaderboardHandler(store LeaderboardStore) *LeaderboardHandler {
	return &LeaderboardHandler{store: store}
}

type leaderboardResponse struct {
	Success bool                `json:"success"`
	Data    []models.GameResult `json:"data"`
}

// HandleLeaderboard handles GET /api/leaderboard?roomId=&limit=.
func (h *LeaderboardHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := r.URL.Query().Get("roomId")

	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	results, err := h.store.TopResults(r.Context(), roomID, limit)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load leaderboard")
		http.Error(w, "Failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []models.GameResult{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(leaderboardResponse{Success: true, Data: results}); err != nil {
		log.Error().Err(err).Msg("failed to encode leaderboard response")
	}
}

// RegisterRoutes registers the leaderboard route.
func (h *LeaderboardHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/leaderboard", h.HandleLeaderboard)
}
