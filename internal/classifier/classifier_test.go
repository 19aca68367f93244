package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frame = json.RawMessage(`[[{"x":0.1,"y":0.2,"z":0}]]`)

func TestStatic(t *testing.T) {
	c := Static{ModelLoaded: true}
	assert.True(t, c.Loaded())

	_, err := c.Predict(context.Background(), frame)
	assert.ErrorIs(t, err, ErrUnavailable)

	out, err := c.Predict(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prediction":"No gesture","confidence":0}`, string(out))
}

func TestRemote_Predict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"landmarks":[[{"x":0.1,"y":0.2,"z":0}]]}`, string(body))
		w.Write([]byte(`{"prediction":"A","confidence":0.93}`))
	}))
	defer srv.Close()

	c := NewRemote(srv.URL, true)
	out, err := c.Predict(context.Background(), frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prediction":"A","confidence":0.93}`, string(out))
}

func TestRemote_EmptyFrameSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewRemote(srv.URL, true)
	for _, landmarks := range []string{"", "null", "[]"} {
		out, err := c.Predict(context.Background(), json.RawMessage(landmarks))
		require.NoError(t, err)
		assert.Contains(t, string(out), "No gesture")
	}
	assert.False(t, called)
}

func TestRemote_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("oops")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewRemote(srv.URL, true).Predict(context.Background(), frame)
			assert.Error(t, err)
		})
	}
}

func TestRemote_NotLoaded(t *testing.T) {
	c := NewRemote("http://127.0.0.1:1", false)
	assert.False(t, c.Loaded())
	_, err := c.Predict(context.Background(), frame)
	assert.ErrorIs(t, err, ErrUnavailable)
}
