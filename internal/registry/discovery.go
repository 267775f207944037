package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Discoverer is the transport-agnostic interface the Discovery strategy
// polls, reshaped from original_source/controller/src/kubernetes.rs's
// KubernetesClientTrait. No Kubernetes client library is wired (see
// DESIGN.md) — the only shipped implementation is HTTPDiscoverer, which
// polls a plain HTTP JSON endpoint listing currently healthy runtime
// hosts. A real cluster-control-plane client satisfies this same
// interface without touching Registry.
type Discoverer interface {
	Discover(ctx context.Context) (map[string]*Endpoint, error)
}

// HTTPDiscoverer polls a discovery endpoint returning
// {"families": [{"language": "...", "base_url": "..."}]}.
type HTTPDiscoverer struct {
	URL    string
	Client *http.Client
}

type discoveryResponse struct {
	Families []struct {
		Language string `json:"language"`
		BaseURL  string `json:"base_url"`
	} `json:"families"`
}

func (d *HTTPDiscoverer) Discover(ctx context.Context) (map[string]*Endpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned %d", resp.StatusCode)
	}

	var body discoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make(map[string]*Endpoint, len(body.Families))
	for _, f := range body.Families {
		out[f.Language] = &Endpoint{Language: f.Language, BaseURL: f.BaseURL, Health: HealthUnknown}
	}
	return out, nil
}

// Poller refreshes a Registry from a Discoverer on a fixed interval, the
// single discovery poller per process described in spec.md §5. It is
// graceful-shutdown aware via ctx cancellation, matching the teacher's
// AuditWriter.Start/Flush lifecycle shape.
type Poller struct {
	registry   *Registry
	discoverer Discoverer
	interval   time.Duration
}

// NewPoller constructs a Poller. interval defaults to 30s per spec.md §5
// when zero.
func NewPoller(registry *Registry, discoverer Discoverer, interval time.Duration) *Poller {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Poller{registry: registry, discoverer: discoverer, interval: interval}
}

// Run blocks, refreshing the registry every interval until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger := log.With().Str("component", "registry.poller").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := p.discoverer.Discover(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("discovery poll failed, keeping previous snapshot")
				continue
			}
			p.registry.ReplaceSnapshot(snapshot)
		}
	}
}
