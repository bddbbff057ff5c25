package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fluxServer(t *testing.T, size int, prompts chan<- string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
			Steps  int    `json:"steps"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		prompts <- body.Prompt
		img := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xff}, size))
		_, _ = w.Write([]byte(`{"artifacts":[{"base64":"` + img + `","finishReason":"SUCCESS"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFlux_SanitizesPrompt(t *testing.T) {
	prompts := make(chan string, 1)
	srv := fluxServer(t, 20000, prompts)
	f := NewFlux(FluxConfig{APIKey: "k", URL: srv.URL}, nil, srv.Client())

	res := f.Generate(t.Context(), ImageRequest{Prompt: "A brutal fight with a sword"})
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Len(t, res.Image.Data, 20000)
	assert.Equal(t, "A brutal action with a action", <-prompts)
}

func TestFlux_SmallImageIsPlaceholder(t *testing.T) {
	prompts := make(chan string, 1)
	srv := fluxServer(t, 9999, prompts)
	f := NewFlux(FluxConfig{APIKey: "k", URL: srv.URL}, nil, srv.Client())

	res := f.Generate(t.Context(), ImageRequest{Prompt: "tea"})
	assert.ErrorIs(t, res.Err, ErrSafetyPlaceholder)
}

func TestFlux_DisabledWithoutKey(t *testing.T) {
	f := NewFlux(FluxConfig{}, nil, nil)
	assert.False(t, f.Enabled())
	assert.ErrorIs(t, f.Generate(t.Context(), ImageRequest{}).Err, ErrNotConfigured)
}

func TestPollinations_FallsBackToSecondModel(t *testing.T) {
	var mu sync.Mutex
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := r.URL.Query().Get("model")
		mu.Lock()
		models = append(models, model)
		mu.Unlock()
		if model == "flux" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(bytes.Repeat([]byte{1}, 2048))
	}))
	defer srv.Close()

	p := NewPollinations(PollinationsConfig{BaseURL: srv.URL, RetryInterval: time.Millisecond}, srv.Client())
	res := p.Generate(t.Context(), ImageRequest{Prompt: "a quiet duel at noon"})
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, []string{"flux", "flux", "turbo"}, models)
}

func TestPollinations_TinyBodyIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	p := NewPollinations(PollinationsConfig{BaseURL: srv.URL, RetryInterval: time.Millisecond}, srv.Client())
	res := p.Generate(t.Context(), ImageRequest{Prompt: "x"})
	assert.False(t, res.OK())
	assert.Error(t, res.Err)
}

type fakeProvider struct {
	name    string
	off     bool
	ok      bool
	mu      sync.Mutex
	calls   int
	onCalls func(name string)
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Enabled() bool { return !f.off }

func (f *fakeProvider) Generate(_ context.Context, _ ImageRequest) Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.onCalls != nil {
		f.onCalls(f.name)
	}
	if f.ok {
		return success(f.name, []byte(f.name), "image/png")
	}
	return failure(f.name, assert.AnError)
}

func TestOrchestrator_Chain(t *testing.T) {
	var order []string
	record := func(name string) { order = append(order, name) }

	hf := &fakeProvider{name: "hf", onCalls: record}
	primary := &fakeProvider{name: "primary", onCalls: record}
	std := &fakeProvider{name: "standard", onCalls: record}

	tests := []struct {
		name      string
		prefer    bool
		primaryOn bool
		want      []string
	}{
		{"default", false, true, []string{"primary", "standard", "hf"}},
		{"prefer high fidelity", true, true, []string{"hf", "primary", "standard", "hf"}},
		{"primary without webhook", false, false, []string{"standard", "hf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order = nil
			primary.off = !tt.primaryOn
			res := NewOrchestrator(hf, primary, std).GenerateImage(t.Context(), ImageRequest{PreferHighFidelity: tt.prefer})
			assert.False(t, res.OK())
			assert.Equal(t, tt.want, order)
		})
	}
}

func TestOrchestrator_StopsAtFirstSuccess(t *testing.T) {
	hf := &fakeProvider{name: "hf", ok: true}
	primary := &fakeProvider{name: "primary"}
	std := &fakeProvider{name: "standard", ok: true}

	res := NewOrchestrator(hf, primary, std).GenerateImage(t.Context(), ImageRequest{})
	require.True(t, res.OK())
	assert.Equal(t, "standard", res.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, hf.calls)
}

func TestOrchestrator_PrimaryTimeoutFallsThrough(t *testing.T) {
	fake := newFakeSupermachine(t, http.StatusOK)
	sm := fake.provider(NewPendingTable(), 3, 50*time.Millisecond)
	std := &fakeProvider{name: "standard", ok: true}

	res := NewOrchestrator(nil, sm, std).GenerateImage(t.Context(), ImageRequest{Prompt: "p"})
	require.True(t, res.OK())
	assert.Equal(t, "standard", res.Provider)
}

func TestOrchestrator_NoProviders(t *testing.T) {
	res := NewOrchestrator(nil, nil, nil).GenerateImage(t.Context(), ImageRequest{})
	assert.ErrorIs(t, res.Err, ErrNoProviders)
}
