package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const SupermachineName = "supermachine"

var errUnauthorized = errors.New("unauthorized")

type SupermachineConfig struct {
	APIKey      string
	AuthURL     string
	GenerateURL string
	// WebhookBaseURL is the public address callbacks are sent to. The provider
	// is disabled without it.
	WebhookBaseURL string
	Model          string
	Racers         int
	Timeout        time.Duration
}

// Supermachine is the primary provider. Generation is asynchronous: the
// result arrives on a webhook, so several identical requests are raced and
// the first callback with an image wins.
type Supermachine struct {
	cfg     SupermachineConfig
	client  *http.Client
	pending *PendingTable

	mu    sync.Mutex
	token string
}

func NewSupermachine(cfg SupermachineConfig, pending *PendingTable, client *http.Client) *Supermachine {
	if cfg.Racers < 1 {
		cfg.Racers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "Supermachine NextGen"
	}
	return &Supermachine{cfg: cfg, client: defaultClient(client), pending: pending}
}

func (s *Supermachine) Name() string {
	return SupermachineName
}

func (s *Supermachine) Enabled() bool {
	return s.cfg.WebhookBaseURL != "" && s.cfg.APIKey != ""
}

func (s *Supermachine) Generate(ctx context.Context, req ImageRequest) Result {
	if !s.Enabled() {
		return failure(s.Name(), ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	token, err := s.accessToken(ctx)
	if err != nil {
		return failure(s.Name(), fmt.Errorf("authenticate: %w", err))
	}

	var refImage string
	if req.ReferenceURL != "" {
		data, _, err := download(ctx, s.client, req.ReferenceURL)
		if err != nil {
			slog.Warn("skipping reference image", "provider", s.Name(), "error", err)
		} else {
			refImage = base64.StdEncoding.EncodeToString(data)
		}
	}

	ids := make([]string, s.cfg.Racers)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	// Slots exist before any request leaves so an early callback is never
	// mistaken for an unknown id.
	deliveries := s.pending.Register(ids...)
	defer s.pending.Discard(ids...)

	for i, id := range ids {
		go func() {
			if err := s.launch(ctx, token, id, req.Prompt, refImage); err != nil {
				slog.Warn("racer failed to start", "provider", s.Name(), "racer", i+1, "correlation_id", id, "error", err)
				s.pending.Deliver(id, Delivery{Err: err})
			}
		}()
	}

	failed := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return failure(s.Name(), ErrTimeout)
			}
			return failure(s.Name(), ctx.Err())
		case d := <-deliveries:
			if d.Err != nil {
				failed++
				if failed == len(ids) {
					return failure(s.Name(), fmt.Errorf("all %d racers failed: %w", failed, d.Err))
				}
				continue
			}
			// First finisher wins; the deferred discard turns the
			// remaining callbacks into unknown ids.
			s.pending.Discard(ids...)
			slog.Info("race won", "provider", s.Name(), "correlation_id", d.ID)

			data, contentType, err := download(ctx, s.client, d.ImageURL)
			if err != nil {
				return failure(s.Name(), fmt.Errorf("download winner: %w", err))
			}
			return success(s.Name(), data, contentType)
		}
	}
}

func (s *Supermachine) launch(ctx context.Context, token, id, prompt, refImage string) error {
	payload := map[string]any{
		"prompt":         prompt,
		"modelName":      s.cfg.Model,
		"width":          1024,
		"height":         1024,
		"imageNumber":    1,
		"generationMode": "GENERATE",
		"webhookUrl":     s.webhookURL(id),
	}
	if refImage != "" {
		payload["refImage"] = refImage
		payload["controlType"] = "reference_only"
		payload["controlMode"] = "0"
		payload["controlnetmodule_id"] = "3"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GenerateURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.dropToken(token)
		return errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	return nil
}

func (s *Supermachine) webhookURL(id string) string {
	return fmt.Sprintf("%s/webhook/%s/%s", strings.TrimRight(s.cfg.WebhookBaseURL, "/"), s.Name(), id)
}

func (s *Supermachine) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}

	body, _ := json.Marshal(map[string]string{"apiKey": s.cfg.APIKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.AuthURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", err
	}
	token := gjson.GetBytes(buf.Bytes(), "authToken").String()
	if token == "" {
		return "", errors.New("auth response has no authToken")
	}
	s.token = token
	return token, nil
}

// dropToken forgets a rejected token unless another caller already replaced it.
func (s *Supermachine) dropToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		s.token = ""
	}
}
