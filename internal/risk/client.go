// Package risk provides the background-check collaborator client.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/metalbank/internal/domain"
)

// ErrUnavailable indicates the background-check service could not be
// reached. Callers treat this as a soft failure; it never touches the
// ledger.
var ErrUnavailable = errors.New("background check service unavailable")

// Lookup resolves risk profiles for entities.
type Lookup interface {
	// Lookup returns the entity's risk profile. An entity unknown to the
	// service yields the documented default profile, not an error.
	Lookup(ctx context.Context, entityName string) (domain.RiskProfile, error)
}

// Client calls the background-check service over HTTP JSON.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a background-check client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type lookupRequest struct {
	EntityName string `json:"entity_name"`
}

type lookupResponse struct {
	EntityName string  `json:"entity_name"`
	WarRisk    float64 `json:"war_risk"`
	Reputation float64 `json:"reputation"`
}

// Lookup fetches the risk profile for an entity. A 404 from the service
// means the entity is simply not on file and maps to the default profile.
func (c *Client) Lookup(ctx context.Context, entityName string) (domain.RiskProfile, error) {
	name := domain.NormalizeEntityName(entityName)

	body, err := json.Marshal(lookupRequest{EntityName: name})
	if err != nil {
		return domain.RiskProfile{}, fmt.Errorf("encode lookup request: %w", err)
	}

	url := c.baseURL + "/tools/get_entity_stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.RiskProfile{}, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("background check unreachable", "entity", name, "error", err)
		return domain.RiskProfile{}, fmt.Errorf("lookup %q: %w", name, ErrUnavailable)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close lookup response body", "error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Info("entity not on file, using default profile", "entity", name)
		return domain.DefaultRiskProfile(name), nil
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("background check returned error status", "entity", name, "status", resp.StatusCode)
		return domain.RiskProfile{}, fmt.Errorf("lookup %q: status %d: %w", name, resp.StatusCode, ErrUnavailable)
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.RiskProfile{}, fmt.Errorf("decode lookup response: %w", err)
	}

	return domain.RiskProfile{
		EntityName: name,
		WarRisk:    out.WarRisk,
		Reputation: out.Reputation,
	}, nil
}

// Static is an in-memory Lookup used in development and tests.
type Static struct {
	Profiles map[string]domain.RiskProfile
}

// Lookup returns the configured profile or the default fallback.
func (s *Static) Lookup(_ context.Context, entityName string) (domain.RiskProfile, error) {
	name := domain.NormalizeEntityName(entityName)
	if p, ok := s.Profiles[name]; ok {
		return p, nil
	}
	return domain.DefaultRiskProfile(name), nil
}
