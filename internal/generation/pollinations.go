package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const PollinationsName = "pollinations"

const maxPromptRunes = 1500

type PollinationsConfig struct {
	BaseURL string
	// Models are tried in order; each gets Attempts tries.
	Models   []string
	Attempts int
	// MinInterval spaces out requests to stay under the public rate limit.
	MinInterval   time.Duration
	RetryInterval time.Duration
	// MinBytes is the smallest body accepted as a real image.
	MinBytes int
}

// Pollinations is the standard provider: a plain GET that returns image bytes.
type Pollinations struct {
	cfg     PollinationsConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewPollinations(cfg PollinationsConfig, client *http.Client) *Pollinations {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://image.pollinations.ai"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []string{"flux", "turbo"}
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 2
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1000
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 3 * time.Second
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Pollinations{
		cfg:     cfg,
		client:  defaultClient(client),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (p *Pollinations) Name() string {
	return PollinationsName
}

func (p *Pollinations) Generate(ctx context.Context, req ImageRequest) Result {
	prompt := req.Prompt
	if r := []rune(prompt); len(r) > maxPromptRunes {
		prompt = string(r[:maxPromptRunes])
	}

	var lastErr error
	for _, model := range p.cfg.Models {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.cfg.RetryInterval

		data, err := backoff.Retry(ctx, func() ([]byte, error) {
			return p.fetch(ctx, model, prompt)
		}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.cfg.Attempts)))
		if err == nil {
			return success(p.Name(), data, "image/jpeg")
		}
		if ctx.Err() != nil {
			return failure(p.Name(), ctx.Err())
		}
		slog.Warn("model exhausted", "provider", p.Name(), "model", model, "error", err)
		lastErr = err
	}
	return failure(p.Name(), lastErr)
}

func (p *Pollinations) fetch(ctx context.Context, model, prompt string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	q := url.Values{}
	q.Set("width", "1024")
	q.Set("height", "1024")
	q.Set("model", model)
	q.Set("nologo", "true")
	q.Set("seed", fmt.Sprint(rand.IntN(100000)))
	target := fmt.Sprintf("%s/prompt/%s?%s", strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(prompt), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) <= p.cfg.MinBytes {
		return nil, errors.New("response too small to be an image")
	}
	return data, nil
}
