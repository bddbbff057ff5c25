package generation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSupermachine accepts generate requests and reports each correlation id
// on launched instead of calling back on its own.
type fakeSupermachine struct {
	*httptest.Server
	authCalls    atomic.Int32
	generateCode int
	launched     chan string
	payloads     chan map[string]any
}

func newFakeSupermachine(t *testing.T, generateCode int) *fakeSupermachine {
	f := &fakeSupermachine{
		generateCode: generateCode,
		launched:     make(chan string, 16),
		payloads:     make(chan map[string]any, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		f.authCalls.Add(1)
		_, _ = w.Write([]byte(`{"authToken":"tok-123"}`))
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(f.generateCode)
		if f.generateCode != http.StatusOK {
			return
		}
		hook, _ := payload["webhookUrl"].(string)
		f.payloads <- payload
		f.launched <- hook[strings.LastIndex(hook, "/")+1:]
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("winner:" + strings.TrimPrefix(r.URL.Path, "/img/")))
	})
	mux.HandleFunc("/avatar.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("avatar-bytes"))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeSupermachine) provider(table *PendingTable, racers int, timeout time.Duration) *Supermachine {
	return NewSupermachine(SupermachineConfig{
		APIKey:         "key",
		AuthURL:        f.URL + "/auth",
		GenerateURL:    f.URL + "/generate",
		WebhookBaseURL: "https://hooks.example",
		Racers:         racers,
		Timeout:        timeout,
	}, table, f.Client())
}

func TestSupermachine_RaceFirstCallbackWins(t *testing.T) {
	fake := newFakeSupermachine(t, http.StatusOK)
	table := NewPendingTable()
	sm := fake.provider(table, 3, 5*time.Second)

	ids := make(chan []string, 1)
	go func() {
		var got []string
		for range 3 {
			got = append(got, <-fake.launched)
		}
		ids <- got
		_, _ = table.HandleCallback(SupermachineName, got[1], []byte(`{"url":"`+fake.URL+`/img/`+got[1]+`"}`))
	}()

	res := sm.Generate(t.Context(), ImageRequest{Prompt: "two knights", ReferenceURL: fake.URL + "/avatar.png"})
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, SupermachineName, res.Provider)

	racers := <-ids
	require.Len(t, racers, 3)
	assert.Equal(t, "winner:"+racers[1], string(res.Image.Data))

	// Every launch carried the reference image and a per-racer webhook.
	for range 3 {
		p := <-fake.payloads
		assert.NotEmpty(t, p["refImage"])
		assert.Equal(t, "reference_only", p["controlType"])
		assert.True(t, strings.HasPrefix(p["webhookUrl"].(string), "https://hooks.example/webhook/supermachine/"))
	}

	// Late finishers are unknown ids.
	for _, id := range []string{racers[0], racers[2], racers[1]} {
		known, err := table.HandleCallback(SupermachineName, id, []byte(`{"url":"https://late"}`))
		require.NoError(t, err)
		assert.False(t, known)
	}
	assert.Zero(t, table.Len())
	assert.Equal(t, int32(1), fake.authCalls.Load())
}

func TestSupermachine_FailedCallbackDoesNotEndRace(t *testing.T) {
	fake := newFakeSupermachine(t, http.StatusOK)
	table := NewPendingTable()
	sm := fake.provider(table, 2, 5*time.Second)

	go func() {
		first, second := <-fake.launched, <-fake.launched
		_, _ = table.HandleCallback(SupermachineName, first, []byte(`{"error":"nsfw"}`))
		_, _ = table.HandleCallback(SupermachineName, second, []byte(`{"imageUrl":"`+fake.URL+`/img/ok"}`))
	}()

	res := sm.Generate(t.Context(), ImageRequest{Prompt: "duel"})
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, "winner:ok", string(res.Image.Data))
}

func TestSupermachine_TimeoutFallsThrough(t *testing.T) {
	fake := newFakeSupermachine(t, http.StatusOK)
	table := NewPendingTable()
	sm := fake.provider(table, 3, 100*time.Millisecond)

	start := time.Now()
	res := sm.Generate(t.Context(), ImageRequest{Prompt: "silence"})
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, table.Len())
}

func TestSupermachine_AllRacersFail(t *testing.T) {
	fake := newFakeSupermachine(t, http.StatusInternalServerError)
	table := NewPendingTable()
	sm := fake.provider(table, 3, 5*time.Second)

	res := sm.Generate(t.Context(), ImageRequest{Prompt: "doomed"})
	assert.False(t, res.OK())
	assert.NotErrorIs(t, res.Err, ErrTimeout)
	var perr *ProviderError
	require.ErrorAs(t, res.Err, &perr)
	assert.Equal(t, SupermachineName, perr.Provider)
	assert.Zero(t, table.Len())
}

func TestSupermachine_UnauthorizedDropsToken(t *testing.T) {
	fake := newFakeSupermachine(t, http.StatusOK)
	table := NewPendingTable()
	sm := fake.provider(table, 1, 5*time.Second)

	sm.token = "stale"
	res := sm.Generate(t.Context(), ImageRequest{Prompt: "x"})
	assert.False(t, res.OK())
	assert.Zero(t, fake.authCalls.Load())

	go func() {
		id := <-fake.launched
		_, _ = table.HandleCallback(SupermachineName, id, []byte(`{"url":"`+fake.URL+`/img/fresh"}`))
	}()
	res = sm.Generate(t.Context(), ImageRequest{Prompt: "x"})
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, int32(1), fake.authCalls.Load())
}

func TestSupermachine_DisabledWithoutWebhook(t *testing.T) {
	sm := NewSupermachine(SupermachineConfig{APIKey: "k"}, NewPendingTable(), nil)
	assert.False(t, sm.Enabled())
	assert.ErrorIs(t, sm.Generate(t.Context(), ImageRequest{}).Err, ErrNotConfigured)
}
