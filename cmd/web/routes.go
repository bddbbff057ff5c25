package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/generation"
	"github.com/AdamBeresnev/parlor/internal/httputil"
	"github.com/AdamBeresnev/parlor/internal/middleware"
	"github.com/AdamBeresnev/parlor/internal/pubsub"
	"github.com/AdamBeresnev/parlor/internal/service"
	"github.com/AdamBeresnev/parlor/internal/store"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/markbates/goth/gothic"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

// eventBus is what the SSE stream needs from the publisher.
type eventBus interface {
	Publish(pubsub.Event)
	Subscribe() chan pubsub.Event
	Unsubscribe(chan pubsub.Event)
}

type server struct {
	sessions *scs.SessionManager
	arenas   *service.Arenas
	players  *service.PlayerService
	matches  *store.MatchStore
	events   eventBus
	pending  *generation.PendingTable
	admins   []string
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})

	// Provider callbacks carry no session.
	r.Post("/webhook/{provider}/{correlationID}", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.LoadAndSave)
		r.Use(middleware.LoadPlayer(s.sessions, s.players))

		r.Get("/auth/{provider}", func(w http.ResponseWriter, r *http.Request) {
			gothic.BeginAuthHandler(w, withProvider(r))
		})
		r.Get("/auth/{provider}/callback", s.handleAuthCallback)
		r.Post("/auth/guest", s.handleGuestLogin)
		r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
			if err := s.sessions.Destroy(r.Context()); err != nil {
				httputil.InternalServerError(w, "Failed to log out", err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/leaderboard", s.handleLeaderboard)

		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/events", s.handleEvents)
			r.Get("/matches", s.handleRecentMatches)
			r.Get("/matches/{matchID}", s.handleMatch)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePlayer)

				r.Get("/balance", s.handleBalance)
				r.Post("/register", s.handleRegister)
				r.Post("/mode", s.handleMode)
				r.Post("/leave", s.handleLeave)
				r.Post("/start", s.handleStart)
				r.Post("/instant", s.handleInstant)
				r.Post("/matches/{matchID}/bets", s.handleBet)
				r.With(middleware.RequireAdmin(s.admins)).Post("/reset", s.handleReset)
			})
		})
	})

	return r
}

// gothic reads the provider from the request context.
func withProvider(r *http.Request) *http.Request {
	provider := chi.URLParam(r, "provider")
	return r.WithContext(context.WithValue(r.Context(), gothic.ProviderParamKey, provider))
}

func (s *server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	gothUser, err := gothic.CompleteUserAuth(w, withProvider(r))
	if err != nil {
		httputil.BadRequest(w, "Authentication failure", err)
		return
	}

	p, err := s.players.FindOrCreatePlayerByProvider(r.Context(), gothUser)
	if err != nil {
		httputil.InternalServerError(w, "Failed to find or create player", err)
		return
	}
	if err := s.sessions.RenewToken(r.Context()); err != nil {
		httputil.InternalServerError(w, "Failed to renew session", err)
		return
	}
	s.sessions.Put(r.Context(), middleware.SessionPlayerKey, p.ID)
	httputil.JSON(w, http.StatusOK, p)
}

func (s *server) handleGuestLogin(w http.ResponseWriter, r *http.Request) {
	p, err := s.players.CreateGuestPlayer(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "Failed to login as guest", err)
		return
	}
	s.sessions.Put(r.Context(), middleware.SessionPlayerKey, p.ID)
	httputil.JSON(w, http.StatusOK, p)
}

func (s *server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	top, err := s.players.Leaderboard(r.Context(), 20)
	if err != nil {
		httputil.InternalServerError(w, "Failed to load leaderboard", err)
		return
	}
	httputil.JSON(w, http.StatusOK, top)
}

func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	id := chi.URLParam(r, "correlationID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "Unreadable body", err)
		return
	}

	matched, err := s.pending.HandleCallback(provider, id, body)
	if err != nil {
		httputil.BadRequest(w, "Invalid JSON", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]bool{"matched": matched})
}

// arena resolves the guild in the path; it writes the error response itself.
func (s *server) arena(w http.ResponseWriter, r *http.Request) (*service.Arena, bool) {
	arena, err := s.arenas.Get(chi.URLParam(r, "guildID"))
	if err != nil {
		httputil.InternalServerError(w, "Failed to open arena", err)
		return nil, false
	}
	return arena, true
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}
	httputil.JSON(w, http.StatusOK, arena.Session.Status())
}

func (s *server) handleRecentMatches(w http.ResponseWriter, r *http.Request) {
	recent, err := s.matches.RecentMatches(r.Context(), chi.URLParam(r, "guildID"), 20)
	if err != nil {
		httputil.InternalServerError(w, "Failed to load matches", err)
		return
	}
	httputil.JSON(w, http.StatusOK, recent)
}

func (s *server) handleMatch(w http.ResponseWriter, r *http.Request) {
	rec, err := s.matches.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && rec.GuildID != chi.URLParam(r, "guildID")) {
		httputil.NotFound(w, "Match not found", err)
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "Failed to load match", err)
		return
	}
	httputil.JSON(w, http.StatusOK, rec)
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}
	p := middleware.GetAuthenticatedPlayer(r.Context())
	balance, err := arena.Betting.Balance(r.Context(), p.ID)
	if err != nil {
		httputil.InternalServerError(w, "Failed to read balance", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

type registerRequest struct {
	Team string `json:"team"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}
	p := service.Participant(middleware.GetAuthenticatedPlayer(r.Context()))
	if err := arena.Session.Register(r.Context(), p, req.Team); err != nil {
		httputil.DomainError(w, "Failed to register", err)
		return
	}
	httputil.JSON(w, http.StatusOK, arena.Session.Status())
}

type modeRequest struct {
	Mode    string   `json:"mode"`
	Rosters []string `json:"rosters"`
	Team    string   `json:"team"`
}

func (s *server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decode(w, r, &req) {
		return
	}
	mode, err := battle.ParseMode(req.Mode)
	if err != nil {
		httputil.DomainError(w, "Failed to select mode", err)
		return
	}
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}
	p := middleware.GetAuthenticatedPlayer(r.Context())
	if err := arena.Session.SelectMode(r.Context(), p.ID, mode, req.Rosters, req.Team); err != nil {
		httputil.DomainError(w, "Failed to select mode", err)
		return
	}
	httputil.JSON(w, http.StatusOK, arena.Session.Status())
}

func (s *server) handleLeave(w http.ResponseWriter, r *http.Request) {
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}
	p := middleware.GetAuthenticatedPlayer(r.Context())
	if err := arena.Session.Leave(r.Context(), p.ID); err != nil {
		httputil.DomainError(w, "Failed to leave", err)
		return
	}
	httputil.JSON(w, http.StatusOK, arena.Session.Status())
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}
	if err := arena.Session.Start(r.Context()); err != nil {
		httputil.DomainError(w, "Failed to start", err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, arena.Session.Status())
}

type instantRequest struct {
	OpponentID string `json:"opponent_id"`
}

func (s *server) handleInstant(w http.ResponseWriter, r *http.Request) {
	var req instantRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}

	var opponent *battle.Participant
	if req.OpponentID != "" {
		p, err := s.players.GetPlayer(r.Context(), req.OpponentID)
		if err != nil {
			httputil.DomainError(w, "Failed to find opponent", err)
			return
		}
		opponent = service.Participant(p)
	}

	challenger := service.Participant(middleware.GetAuthenticatedPlayer(r.Context()))
	if err := arena.Session.InstantMatch(r.Context(), challenger, opponent); err != nil {
		httputil.DomainError(w, "Failed to start instant match", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}
	p := middleware.GetAuthenticatedPlayer(r.Context())
	slog.Info("session reset", "guild_id", arena.GuildID, "player_id", p.ID)
	arena.Session.Reset(r.Context())
	httputil.JSON(w, http.StatusOK, arena.Session.Status())
}

type betRequest struct {
	Amount decimal.Decimal `json:"amount"`
	AllIn  bool            `json:"all_in"`
	Side   battle.Side     `json:"side"`
}

func (s *server) handleBet(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "matchID"))
	if err != nil {
		httputil.BadRequest(w, "Invalid match ID", err)
		return
	}
	var req betRequest
	if !decode(w, r, &req) {
		return
	}
	arena, ok := s.arena(w, r)
	if !ok {
		return
	}

	p := middleware.GetAuthenticatedPlayer(r.Context())
	bet, err := arena.Betting.PlaceBet(r.Context(), matchID, p.ID, service.Stake{Amount: req.Amount, AllIn: req.AllIn}, req.Side)
	if err != nil {
		httputil.DomainError(w, "Failed to place bet", err)
		return
	}
	s.events.Publish(pubsub.Event{Type: pubsub.EventBetPlaced, GuildID: arena.GuildID, Payload: bet})
	httputil.JSON(w, http.StatusOK, bet)
}

// handleEvents streams the guild's events as server-sent events until the
// client goes away.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Warn("event stream cannot flush", "error", err)
		return
	}

	ch := s.events.Subscribe()
	defer s.events.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.GuildID != guildID {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("failed to encode event", "type", event.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httputil.BadRequest(w, "Invalid JSON", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "Invalid JSON", err)
		return false
	}
	return true
}
