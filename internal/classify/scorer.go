package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// LabelScore is one class probability reported by a detector model
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Scorer runs one detector model over the image
type Scorer interface {
	Score(ctx context.Context, image []byte, modelID string) ([]LabelScore, error)
}

// HTTPScorer posts raw image bytes to {baseURL}/models/{modelID} and reads a JSON list of label scores
type HTTPScorer struct {
	client  *http.Client
	baseURL string
	token   string
}

func NewHTTPScorer(client *http.Client, baseURL, token string) *HTTPScorer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPScorer{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), token: token}
}

func (s *HTTPScorer) Score(ctx context.Context, image []byte, modelID string) ([]LabelScore, error) {
	endpoint := s.baseURL + "/models/" + url.PathEscape(modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %d %s", ErrScorerStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var scores []LabelScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	return scores, nil
}
