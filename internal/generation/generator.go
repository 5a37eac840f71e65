package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/epicsales/coach/internal/domain"
)

// Request is the contract the engine requires from the external
// text-generation collaborator: disposition in, one customer line out.
type Request struct {
	SessionID uuid.UUID               `json:"sessionId"`
	Persona   domain.Persona          `json:"persona"`
	Signal    domain.Signal           `json:"signaal"`
	Dynamics  domain.CustomerDynamics `json:"customerDynamics"`
	Phase     int                     `json:"phase"`
	EpicPhase domain.EpicPhase        `json:"epicFase"`
	History   []domain.Turn           `json:"history"` // recent tail only
}

type Generator interface {
	NextCustomerLine(ctx context.Context, req Request) (string, error)
}

// HTTPGenerator calls the generation service over HTTP. The client timeout
// bounds the only long-latency operation in the turn path; callers fall
// back to a generic in-phase line on error.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

func NewHTTPGenerator(endpoint string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type generateResponse struct {
	Reply string `json:"reply"`
}

func (g *HTTPGenerator) NextCustomerLine(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("generation.NextCustomerLine: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generation.NextCustomerLine: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generation.NextCustomerLine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation.NextCustomerLine: unexpected status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("generation.NextCustomerLine: decode: %w", err)
	}
	if out.Reply == "" {
		return "", fmt.Errorf("generation.NextCustomerLine: empty reply")
	}

	return out.Reply, nil
}
