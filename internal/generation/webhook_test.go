package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractImageURL(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{"url field", `{"url":"https://cdn/a.png"}`, "https://cdn/a.png", true},
		{"imageUrl field", `{"status":"done","imageUrl":"https://cdn/b.png"}`, "https://cdn/b.png", true},
		{"output_url field", `{"output_url":"https://cdn/c.png"}`, "https://cdn/c.png", true},
		{"images array", `{"images":[{"url":"https://cdn/d.png"},{"url":"https://cdn/e.png"}]}`, "https://cdn/d.png", true},
		{"known field wins over scan", `{"thumb":"https://cdn/t.png","url":"https://cdn/f.png"}`, "https://cdn/f.png", true},
		{"first http string", `{"id":7,"note":"ok","result":"https://cdn/g.png","other":"https://cdn/h.png"}`, "https://cdn/g.png", true},
		{"empty url falls through", `{"url":"","link":"http://cdn/i.png"}`, "http://cdn/i.png", true},
		{"nothing usable", `{"status":"failed","code":3}`, "", false},
		{"empty images", `{"images":[]}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractImageURL([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleCallback(t *testing.T) {
	table := NewPendingTable()
	ch := table.Register("known", "empty")

	known, err := table.HandleCallback("supermachine", "known", []byte(`{"url":"https://cdn/x.png"}`))
	require.NoError(t, err)
	assert.True(t, known)
	d := <-ch
	assert.Equal(t, "https://cdn/x.png", d.ImageURL)
	assert.NoError(t, d.Err)

	known, err = table.HandleCallback("supermachine", "empty", []byte(`{"status":"nsfw"}`))
	require.NoError(t, err)
	assert.True(t, known)
	d = <-ch
	assert.ErrorIs(t, d.Err, ErrNoImage)

	known, err = table.HandleCallback("supermachine", "stranger", []byte(`{"url":"https://cdn/y.png"}`))
	require.NoError(t, err)
	assert.False(t, known)

	_, err = table.HandleCallback("supermachine", "known", []byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
