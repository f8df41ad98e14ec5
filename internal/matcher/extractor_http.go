package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	dErrors "bioattend/pkg/domain-errors"
	"bioattend/pkg/platform/sentinel"
)

// HTTPExtractor calls the external embedding service. The service owns face
// detection and embedding computation; this client only speaks its contract:
// POST the probe image, receive zero or more 128-D embeddings.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExtractor(baseURL string) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type extractResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Extract sends the probe to the embedding service. An unreachable or
// erroring service is an infrastructure fault, not a verification outcome.
func (e *HTTPExtractor) Extract(ctx context.Context, image []byte) ([]Embedding, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding service: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The service rejected the image itself (corrupt, wrong format).
		return nil, dErrors.New(dErrors.CodeBadRequest, "probe image could not be processed")
	default:
		return nil, fmt.Errorf("embedding service status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	var body extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	embeddings := make([]Embedding, 0, len(body.Embeddings))
	for _, raw := range body.Embeddings {
		if len(raw) != EmbeddingDim {
			return nil, fmt.Errorf("embedding service returned %d-dim vector, want %d", len(raw), EmbeddingDim)
		}
		embeddings = append(embeddings, Embedding(raw))
	}
	return embeddings, nil
}
