// Package classifier forwards hand-landmark frames to the gesture model and
// returns its prediction unchanged.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrUnavailable = errors.New("detector not available")

// noGesture is returned when a frame carries no landmarks.
var noGesture = json.RawMessage(`{"prediction":"No gesture","confidence":0}`)

type Classifier interface {
	Loaded() bool
	Predict(ctx context.Context, landmarks json.RawMessage) (json.RawMessage, error)
}

// Static reports a fixed model state and never predicts. It is used when no
// classifier service is configured.
type Static struct {
	ModelLoaded bool
}

func (s Static) Loaded() bool { return s.ModelLoaded }

func (s Static) Predict(ctx context.Context, landmarks json.RawMessage) (json.RawMessage, error) {
	if isEmpty(landmarks) {
		return noGesture, nil
	}
	return nil, ErrUnavailable
}

// Remote posts landmark frames to an HTTP model service.
type Remote struct {
	url    string
	loaded bool
	client *http.Client
}

func NewRemote(url string, loaded bool) *Remote {
	return &Remote{
		url:    url,
		loaded: loaded,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *Remote) Loaded() bool { return r.loaded }

func (r *Remote) Predict(ctx context.Context, landmarks json.RawMessage) (json.RawMessage, error) {
	if isEmpty(landmarks) {
		return noGesture, nil
	}
	if !r.loaded {
		return nil, ErrUnavailable
	}

	body, err := json.Marshal(map[string]json.RawMessage{"landmarks": landmarks})
	if err != nil {
		return nil, fmt.Errorf("encoding landmarks: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling classifier: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}
	if !json.Valid(payload) {
		return nil, errors.New("classifier returned invalid JSON")
	}
	return payload, nil
}

func isEmpty(landmarks json.RawMessage) bool {
	trimmed := bytes.TrimSpace(landmarks)
	return len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == "[]"
}
