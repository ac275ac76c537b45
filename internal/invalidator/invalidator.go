// Package invalidator purges just-overwritten export assets from the edge
// cache so viewers never see a mixed video/manifest pair.
package invalidator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// Invalidator invalidates the given absolute cache paths.
type Invalidator interface {
	Invalidate(ctx context.Context, paths ...string) error
}

// HTTP posts invalidation batches to a purge endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
	strategy retry.Strategy
}

// NewHTTP creates an invalidator against the given purge endpoint.
func NewHTTP(endpoint string, strategy retry.Strategy) *HTTP {
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		strategy: strategy,
	}
}

// Invalidate submits one purge batch for the given paths.
func (h *HTTP) Invalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string][]string{"paths": paths})
	if err != nil {
		return fmt.Errorf("invalidate: failed to marshal request: %w", err)
	}

	err = retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("purge endpoint returned %s", resp.Status)
		}
		return nil
	}, h.strategy)
	if err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}

	zlog.Logger.Info().Strs("paths", paths).Msg("edge cache invalidated")
	return nil
}

// Noop skips invalidation; used when no purge endpoint is configured.
type Noop struct{}

func (Noop) Invalidate(context.Context, ...string) error { return nil }

var (
	_ Invalidator = (*HTTP)(nil)
	_ Invalidator = Noop{}
)
