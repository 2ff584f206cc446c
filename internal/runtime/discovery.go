package runtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/contracts"
)

// discoveryProbeTimeout bounds each local discovery HEAD request.
const discoveryProbeTimeout = time.Second

// DefaultDiscoveryPort is the conventional local MCP SSE port.
const DefaultDiscoveryPort = 3001

// DiscoverLocalServers probes a small fixed set of loopback URLs and reports
// availability. Nothing is registered; this is a pure probe.
func (m *Manager) DiscoverLocalServers(ctx context.Context, port int) []contracts.DiscoveryResult {
	if port <= 0 {
		port = DefaultDiscoveryPort
	}
	candidates := []string{
		fmt.Sprintf("http://localhost:%d/sse", port),
		fmt.Sprintf("http://127.0.0.1:%d/sse", port),
	}

	results := make([]contracts.DiscoveryResult, 0, len(candidates))
	for _, baseURL := range candidates {
		available := probeHead(ctx, baseURL)
		results = append(results, contracts.DiscoveryResult{
			BaseURL:   baseURL,
			Available: available,
		})
		m.logger.Debug("Probed local server",
			zap.String("url", baseURL),
			zap.Bool("available", available))
	}
	return results
}

// AutoDiscoverAndAddServers probes local endpoints and registers every
// available server not already present (deduplicated by base URL). Returns
// the number of servers added.
func (m *Manager) AutoDiscoverAndAddServers(ctx context.Context, port int) (int, error) {
	results := m.DiscoverLocalServers(ctx, port)

	known := make(map[string]struct{})
	for _, a := range m.registry.GetAll() {
		known[a.GetConfig().BaseURL] = struct{}{}
	}

	added := 0
	for _, result := range results {
		if !result.Available {
			continue
		}
		if _, exists := known[result.BaseURL]; exists {
			continue
		}
		name := discoveredServerName(result.BaseURL)
		if _, err := m.AddServer(ctx, name, result.BaseURL, true, nil); err != nil {
			m.logger.Warn("Failed to add discovered server",
				zap.String("url", result.BaseURL),
				zap.Error(err))
			continue
		}
		known[result.BaseURL] = struct{}{}
		added++
	}

	m.logger.Info("Auto-discovery finished", zap.Int("added", added))
	return added, nil
}

func discoveredServerName(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return baseURL
	}
	return "Local MCP " + parsed.Host
}

// probeHead issues one HEAD request with a 1s timeout. Any response counts as
// available; errors and timeouts do not.
func probeHead(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, discoveryProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
