package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aadithya-v/seatguard"
)

var (
	g      *seatguard.Guard
	logger zerolog.Logger
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", "", "optional YAML settings file")
	flag.Parse()

	// Defaults < YAML file < SEATGUARD_* environment variables.
	// Set SEATGUARD_STORAGE_SQLITE_PATH=seatguard.db to persist state, or
	// SEATGUARD_STORAGE_MYSQL_DSN / SEATGUARD_STORAGE_REDIS_ADDR for production.
	settings, err := seatguard.LoadSettings(*configPath)
	if err != nil {
		bootLogger := seatguard.NewLogger(seatguard.LogSettings{Format: "console"}, os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load settings")
	}

	cfg, err := settings.Config()
	if err != nil {
		bootLogger := seatguard.NewLogger(settings.Log, os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to open stores")
	}
	logger = *cfg.Logger
	cfg.Registerer = prometheus.DefaultRegisterer

	g, err = seatguard.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize seatguard")
	}
	defer g.Close()

	r := newRouter()

	logger.Info().Str("addr", *addr).Msg("seatguard example server running")
	logger.Info().Msg("  POST   /subscriptions/{id}/sessions?session_id=x&user_id=y  - Register the caller's session")
	logger.Info().Msg("  DELETE /subscriptions/{id}/sessions/{session_id}           - Remove a session")
	logger.Info().Msg("  GET    /subscriptions/{id}/sharing?user_id=y               - Analyze account sharing")
	logger.Info().Msg("  PUT    /subscriptions/{id}/seats/{seat_id}                 - Register a seat (JSON body)")
	logger.Info().Msg("  POST   /seats/{seat_id}/reassignments                      - Record a reassignment (JSON body)")
	logger.Info().Msg("  GET    /subscriptions/{id}/seats?workspace_id=w            - Analyze seat abuse")

	server := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/subscriptions/{subscriptionID}", func(r chi.Router) {
		r.Get("/sessions", listSessionsHandler)
		r.Post("/sessions", registerSessionHandler)
		r.Delete("/sessions/{sessionID}", removeSessionHandler)
		r.Get("/sharing", analyzeSharingHandler)
		r.Post("/grace", startGraceHandler)
		r.Delete("/grace", clearGraceHandler)

		r.Get("/seats", analyzeSeatsHandler)
		r.Put("/seats/{seatID}", registerSeatHandler)
		r.Post("/seats/{seatID}/activity", seatActivityHandler)
	})
	r.Post("/seats/{seatID}/reassignments", reassignSeatHandler)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func registerSessionHandler(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")
	sessionID := r.URL.Query().Get("session_id")
	userID := r.URL.Query().Get("user_id")
	if sessionID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "session_id and user_id required")
		return
	}

	session, err := g.RegisterRequest(r, subscriptionID, sessionID, userID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func removeSessionHandler(w http.ResponseWriter, r *http.Request) {
	err := g.Sharing().RemoveSession(chi.URLParam(r, "subscriptionID"), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")
	sessions, err := g.Sharing().Sessions(subscriptionID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscription_id": subscriptionID,
		"sessions":        sessions,
		"count":           len(sessions),
	})
}

func analyzeSharingHandler(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")
	analysis, err := g.Sharing().Analyze(subscriptionID, r.URL.Query().Get("user_id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	// The first elevated verdict opens the grace period and is itself capped
	// at a warning. Later ones escalate once the period runs out.
	if analysis.OverallRisk != seatguard.RiskLow && !analysis.InGracePeriod {
		if err := g.Sharing().StartGracePeriod(subscriptionID); err != nil {
			writeFailure(w, err)
			return
		}
		inGrace, err := g.Sharing().IsInGracePeriod(subscriptionID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		analysis.InGracePeriod = inGrace
		analysis.RecommendedAction = seatguard.RecommendAction(analysis.OverallRisk, inGrace)
	}
	writeJSON(w, http.StatusOK, analysis)
}

func startGraceHandler(w http.ResponseWriter, r *http.Request) {
	if err := g.Sharing().StartGracePeriod(chi.URLParam(r, "subscriptionID")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func clearGraceHandler(w http.ResponseWriter, r *http.Request) {
	if err := g.Sharing().ClearGracePeriod(chi.URLParam(r, "subscriptionID")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func registerSeatHandler(w http.ResponseWriter, r *http.Request) {
	var seat seatguard.SeatAssignment
	if err := json.NewDecoder(r.Body).Decode(&seat); err != nil {
		writeError(w, http.StatusBadRequest, "invalid seat body")
		return
	}
	seat.SubscriptionID = chi.URLParam(r, "subscriptionID")
	seat.SeatID = chi.URLParam(r, "seatID")

	if err := g.Seats().RegisterSeat(seat); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seat)
}

func seatActivityHandler(w http.ResponseWriter, r *http.Request) {
	err := g.RecordSeatActivity(r, chi.URLParam(r, "subscriptionID"), chi.URLParam(r, "seatID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func reassignSeatHandler(w http.ResponseWriter, r *http.Request) {
	var reassignment seatguard.SeatReassignment
	if err := json.NewDecoder(r.Body).Decode(&reassignment); err != nil {
		writeError(w, http.StatusBadRequest, "invalid reassignment body")
		return
	}
	reassignment.SeatID = chi.URLParam(r, "seatID")
	if reassignment.ReassignedAt.IsZero() {
		reassignment.ReassignedAt = time.Now()
	}

	if err := g.Seats().RecordReassignment(reassignment); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func analyzeSeatsHandler(w http.ResponseWriter, r *http.Request) {
	analysis, err := g.Seats().Analyze(chi.URLParam(r, "subscriptionID"), r.URL.Query().Get("workspace_id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps validation errors to 400 and everything else to 500.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, seatguard.ErrInvalidSession), errors.Is(err, seatguard.ErrInvalidSeat):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
