package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AdamBeresnev/parlor/internal/player"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin([]string{"discord:1", " google:2 "})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	testCases := []struct {
		name     string
		playerID string
		wantCode int
	}{
		{"admin", "discord:1", http.StatusNoContent},
		{"trimmed admin", "google:2", http.StatusNoContent},
		{"guest", "guest:abc", http.StatusForbidden},
		{"anonymous", "", http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/guilds/g1/reset", nil)
			if tc.playerID != "" {
				req = req.WithContext(context.WithValue(req.Context(), player.PlayerKey, &player.Player{ID: tc.playerID}))
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantCode, rec.Code)
			if tc.wantCode == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", gjson.Get(rec.Body.String(), "code").String())
			}
		})
	}
}
