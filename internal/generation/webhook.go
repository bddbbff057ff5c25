package generation

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrInvalidPayload = errors.New("callback payload is not valid JSON")

var imageURLPaths = []string{"url", "imageUrl", "output_url", "images.0.url"}

// ExtractImageURL finds the generated image in a callback body. Known fields
// are tried in order, then the first top-level string that looks like a URL.
func ExtractImageURL(body []byte) (string, bool) {
	for _, path := range imageURLPaths {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str, true
		}
	}

	var found string
	gjson.ParseBytes(body).ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String && strings.HasPrefix(value.Str, "http") {
			found = value.Str
			return false
		}
		return true
	})
	return found, found != ""
}

// HandleCallback routes a provider callback to its waiting slot. It reports
// whether the correlation id was still pending. A payload without an image
// URL fails the slot rather than leaving it to time out.
func (t *PendingTable) HandleCallback(provider, id string, body []byte) (bool, error) {
	if !gjson.ValidBytes(body) {
		return false, ErrInvalidPayload
	}

	d := Delivery{}
	if url, ok := ExtractImageURL(body); ok {
		d.ImageURL = url
	} else {
		d.Err = ErrNoImage
	}

	if !t.Deliver(id, d) {
		slog.Info("callback for unknown id", "provider", provider, "correlation_id", id)
		return false, nil
	}
	slog.Debug("callback delivered", "provider", provider, "correlation_id", id, "has_image", d.Err == nil)
	return true, nil
}
