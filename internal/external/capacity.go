package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"capacityd/internal/config"
	"capacityd/internal/types"
)

// apiVersion query parameters per provider family. The two families share
// resume/suspend semantics but are versioned independently.
const (
	dedicatedAPIVersion = "2021-01-01"
	fabricAPIVersion    = "2023-11-01"
)

// providerNamespace returns the resource-provider path segment for a
// capacity kind.
func providerNamespace(kind types.CapacityKind) string {
	if kind == types.KindFabric {
		return "Microsoft.Fabric"
	}
	return "Microsoft.PowerBIDedicated"
}

func apiVersionFor(kind types.CapacityKind) string {
	if kind == types.KindFabric {
		return fabricAPIVersion
	}
	return dedicatedAPIVersion
}

// capacityResource is the subset of the provider's capacity resource
// representation the controller cares about.
type capacityResource struct {
	Properties struct {
		State string `json:"state"`
	} `json:"properties"`
}

// CapacityClient talks to the remote capacity control plane. It is the only
// type in the repository that issues requests against the provider API.
// All calls are routed through BaseClient for circuit breaking and retries.
type CapacityClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
	logger  *slog.Logger
}

// NewCapacityClient creates a CapacityClient from provider configuration.
func NewCapacityClient(httpClient *http.Client, cfg config.ProviderConfig, logger *slog.Logger) *CapacityClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		httpClient,
		"capacity-provider",
		DefaultRetryPolicy(),
		"capacityd/1.0",
	)
	return &CapacityClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		logger:  logger,
	}
}

// NewCapacityClientWithBase creates a CapacityClient with a pre-configured
// BaseClient. Useful for tests that want to control retry behavior.
func NewCapacityClientWithBase(base *BaseClient, cfg config.ProviderConfig, logger *slog.Logger) *CapacityClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapacityClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		logger:  logger,
	}
}

// HasCredentials reports whether a provider token is configured. Without it
// the controller is inert and every state read reports Unavailable.
func (c *CapacityClient) HasCredentials() bool {
	return c.token.Unmask() != ""
}

// capacityURL builds the control-plane URL for the capacity resource,
// optionally with a trailing action segment ("resume" or "suspend").
func (c *CapacityClient) capacityURL(d types.CapacityDescriptor, action string) string {
	url := fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/%s/capacities/%s",
		c.baseURL, d.SubscriptionID, d.ResourceGroup, providerNamespace(d.Kind), d.Name)
	if action != "" {
		url += "/" + action
	}
	return url + "?api-version=" + apiVersionFor(d.Kind)
}

// GetCapacity fetches the capacity resource and returns its raw provider
// state string (e.g. "Active", "Paused", "Resuming").
func (c *CapacityClient) GetCapacity(ctx context.Context, d types.CapacityDescriptor) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.capacityURL(d, ""), nil)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected, "failed to create capacity state request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", c.handleErrorResponse(resp, "GetCapacity")
	}

	var resource capacityResource
	if err := json.NewDecoder(resp.Body).Decode(&resource); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamProvider, "failed to decode capacity resource", err)
	}

	c.logger.DebugContext(ctx, "capacity state fetched",
		"capacity", d.Name,
		"state", resource.Properties.State,
	)

	return resource.Properties.State, nil
}

// Resume issues the provider's asynchronous resume call. The provider
// acknowledges with 202 and transitions the capacity through "Resuming";
// settling takes minutes and is observed via GetCapacity.
func (c *CapacityClient) Resume(ctx context.Context, d types.CapacityDescriptor) error {
	return c.transition(ctx, d, "resume")
}

// Suspend issues the provider's asynchronous suspend call.
func (c *CapacityClient) Suspend(ctx context.Context, d types.CapacityDescriptor) error {
	return c.transition(ctx, d, "suspend")
}

func (c *CapacityClient) transition(ctx context.Context, d types.CapacityDescriptor, action string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.capacityURL(d, action), nil)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to create capacity %s request", action), err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	c.logger.InfoContext(ctx, "issuing capacity transition",
		"capacity", d.Name,
		"kind", string(d.Kind),
		"action", action,
	)

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(resp, action)
	}

	return nil
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an appropriate AppError.
func (c *CapacityClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("capacity provider API error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"response_body", bodyStr,
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(
			types.ErrCodeUpstreamAuth,
			fmt.Sprintf("capacity provider rejected credentials (%d)", resp.StatusCode),
			fmt.Errorf("provider %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeUpstreamProvider,
			"capacity resource not found (404)",
			fmt.Errorf("provider %s returned 404: %s", operation, bodyStr),
		)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return types.NewAppError(
			types.ErrCodeUpstreamProvider,
			fmt.Sprintf("capacity provider client error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("provider %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamProvider,
			fmt.Sprintf("capacity provider server error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("provider %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	}
}
