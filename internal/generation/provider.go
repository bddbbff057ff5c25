package generation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

type ImageRequest struct {
	Prompt string
	// ReferenceURL is an image the result should resemble. Optional.
	ReferenceURL string
	// PreferHighFidelity tries the high-fidelity provider before the others.
	PreferHighFidelity bool
}

type ImageProvider interface {
	Name() string
	Generate(ctx context.Context, req ImageRequest) Result
}

// ImageGenerator is anything that can turn a request into an image result,
// a single provider or the whole chain.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) Result
}

// enabled reports whether a provider has the configuration it needs. Providers
// that do not say are assumed ready.
func enabled(p ImageProvider) bool {
	if p == nil {
		return false
	}
	if e, ok := p.(interface{ Enabled() bool }); ok {
		return e.Enabled()
	}
	return true
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 90 * time.Second}
}

// download fetches url and returns the body with its content type.
func download(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("status %d: %s", resp.StatusCode, body)
}
