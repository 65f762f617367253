// Package generator bridges workflow nodes to an external content
// generation backend.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/loom/internal/config"
	"github.com/watzon/loom/internal/workflow"
)

// Generator produces the output of one node given its resolved input.
// Implementations may be slow and must honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, nodeID, input string) (string, error)
}

// Func returns the generator as a workflow node callback.
func Func(g Generator) workflow.NodeFunc {
	return func(ctx context.Context, nodeID, input string) (string, error) {
		return g.Generate(ctx, nodeID, input)
	}
}

// HTTPGenerator posts node inputs to a remote generation endpoint.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates a generator backed by the configured HTTP endpoint.
func NewHTTP(cfg *config.GeneratorConfig) (*HTTPGenerator, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("generator endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultGeneratorTimeout
	}

	return &HTTPGenerator{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type generateRequest struct {
	NodeID string `json:"node_id"`
	Input  string `json:"input"`
}

type generateResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Generate posts the node input and returns the backend's output.
func (g *HTTPGenerator) Generate(ctx context.Context, nodeID, input string) (string, error) {
	body, err := json.Marshal(generateRequest{NodeID: nodeID, Input: input})
	if err != nil {
		return "", fmt.Errorf("encoding generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling generation backend: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("reading generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation backend returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parsing generation response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("generation backend error: %s", out.Error)
	}

	log.Debug().
		Str("node_id", nodeID).
		Dur("duration", time.Since(start)).
		Int("output_bytes", len(out.Output)).
		Msg("Node generated")

	return out.Output, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
