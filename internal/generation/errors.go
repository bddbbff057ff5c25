package generation

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout           = errors.New("generation timed out")
	ErrNoImage           = errors.New("no image url in callback")
	ErrNotConfigured     = errors.New("provider not configured")
	ErrSafetyPlaceholder = errors.New("image looks like a safety placeholder")
	ErrNoProviders       = errors.New("no image provider available")
)

type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Image is a generated picture, already downloaded.
type Image struct {
	Data        []byte
	ContentType string
	Provider    string
}

// Result is the outcome of one generation attempt: an image or a failure,
// never both.
type Result struct {
	Image    *Image
	Provider string
	Err      error
}

func (r Result) OK() bool {
	return r.Err == nil && r.Image != nil
}

func success(provider string, data []byte, contentType string) Result {
	return Result{
		Image:    &Image{Data: data, ContentType: contentType, Provider: provider},
		Provider: provider,
	}
}

func failure(provider string, err error) Result {
	return Result{Provider: provider, Err: &ProviderError{Provider: provider, Err: err}}
}
