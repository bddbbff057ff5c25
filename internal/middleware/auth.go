package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/config"
	"github.com/AdamBeresnev/parlor/internal/httputil"
	"github.com/AdamBeresnev/parlor/internal/player"
	"github.com/alexedwards/scs/v2"
	"github.com/markbates/goth"
	"github.com/markbates/goth/providers/discord"
	"github.com/markbates/goth/providers/google"
)

// SessionPlayerKey is the session field holding the logged-in player's ID.
const SessionPlayerKey = "playerID"

// PlayerFinder loads a player by ID.
type PlayerFinder interface {
	GetPlayer(ctx context.Context, id string) (*player.Player, error)
}

// InitAuth registers every login provider that has credentials.
func InitAuth(discordCfg, googleCfg config.OAuthConfig) {
	var providers []goth.Provider
	if discordCfg.Key != "" {
		providers = append(providers, discord.New(discordCfg.Key, discordCfg.Secret, discordCfg.CallbackURL, discord.ScopeIdentify))
	}
	if googleCfg.Key != "" {
		providers = append(providers, google.New(googleCfg.Key, googleCfg.Secret, googleCfg.CallbackURL, "profile"))
	}
	if len(providers) == 0 {
		slog.Warn("no login providers configured, only guest login is available")
		return
	}
	goth.UseProviders(providers...)
}

// LoadPlayer puts the session's player into the request context when there
// is one. Stale session entries are dropped.
func LoadPlayer(sessionManager *scs.SessionManager, players PlayerFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sessionManager.GetString(r.Context(), SessionPlayerKey)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := players.GetPlayer(r.Context(), id)
			if err != nil {
				if !errors.Is(err, battle.ErrNotRegistered) {
					slog.Error("failed to load session player", "player_id", id, "error", err)
				}
				sessionManager.Remove(r.Context(), SessionPlayerKey)
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), player.PlayerKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePlayer rejects requests without a logged-in player.
func RequirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthenticatedPlayer(r.Context()) == nil {
			httputil.Unauthorized(w, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin lets through only the listed players. It runs after
// RequirePlayer.
func RequireAdmin(playerIDs []string) func(http.Handler) http.Handler {
	admins := make(map[string]struct{}, len(playerIDs))
	for _, id := range playerIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetAuthenticatedPlayer(r.Context())
			if p == nil {
				httputil.Unauthorized(w, "login required")
				return
			}
			if _, ok := admins[p.ID]; !ok {
				slog.Warn("admin action refused", "player_id", p.ID, "path", r.URL.Path)
				httputil.Forbidden(w, "admin only")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetAuthenticatedPlayer(ctx context.Context) *player.Player {
	p, ok := ctx.Value(player.PlayerKey).(*player.Player)
	if !ok {
		return nil
	}
	return p
}
