package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

const FluxName = "flux"

type FluxConfig struct {
	APIKey string
	URL    string
	Steps  int
	// MinBytes below which a decoded image is treated as a safety placeholder.
	MinBytes int
}

// Flux is the high-fidelity provider. Its safety filter is strict, so every
// prompt goes through the sanitizer first.
type Flux struct {
	cfg       FluxConfig
	client    *http.Client
	sanitizer *Sanitizer
}

func NewFlux(cfg FluxConfig, sanitizer *Sanitizer, client *http.Client) *Flux {
	if cfg.URL == "" {
		cfg.URL = "https://ai.api.nvidia.com/v1/genai/black-forest-labs/flux.1-schnell"
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 4
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 10000
	}
	if sanitizer == nil {
		sanitizer = NewSanitizer(DefaultBlockedTerms)
	}
	return &Flux{cfg: cfg, client: defaultClient(client), sanitizer: sanitizer}
}

func (f *Flux) Name() string {
	return FluxName
}

func (f *Flux) Enabled() bool {
	return f.cfg.APIKey != ""
}

func (f *Flux) Generate(ctx context.Context, req ImageRequest) Result {
	if !f.Enabled() {
		return failure(f.Name(), ErrNotConfigured)
	}

	body, err := json.Marshal(map[string]any{
		"prompt": f.sanitizer.Sanitize(req.Prompt),
		"steps":  f.cfg.Steps,
		"seed":   0,
	})
	if err != nil {
		return failure(f.Name(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return failure(f.Name(), err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return failure(f.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(f.Name(), readError(resp))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(f.Name(), err)
	}

	encoded := gjson.GetBytes(raw, "artifacts.0.base64").String()
	if encoded == "" {
		return failure(f.Name(), errors.New("response has no artifacts"))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return failure(f.Name(), fmt.Errorf("decode artifact: %w", err))
	}
	if len(data) < f.cfg.MinBytes {
		return failure(f.Name(), ErrSafetyPlaceholder)
	}
	return success(f.Name(), data, "image/jpeg")
}
