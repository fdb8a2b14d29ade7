package discourse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/gateway"
)

// client wraps one forum host's gateway.Gateway with JSON decoding,
// grounded on api_handler.rs's ApiHandler::fetch.
type client struct {
	baseURL string
	gw      *gateway.Gateway
}

func newClient(baseURL string, gw *gateway.Gateway) *client {
	return &client{baseURL: strings.TrimSuffix(baseURL, "/"), gw: gw}
}

// getJSON fetches path (relative to baseURL) and decodes the JSON body
// into out. priority routes the request onto the gateway's high lane
// when set, matching the original's per-call `priority: bool`.
func (c *client) getJSON(ctx context.Context, path string, priority bool, out interface{}) error {
	body, status, err := c.get(ctx, path, priority)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return &errs.NotFound{Entity: "discourse_resource", Key: path}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &errs.DecodeFailure{Cause: err, RawBody: string(body)}
	}
	return nil
}

func (c *client) get(ctx context.Context, path string, priority bool) ([]byte, int, error) {
	prio := gateway.PriorityLow
	if priority {
		prio = gateway.PriorityHigh
	}

	url := c.baseURL + path
	resp, body, err := c.gw.Do(ctx, prio, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if rejected, ok := err.(*errs.RemoteRejected); ok && rejected.Status == http.StatusNotFound {
		return nil, http.StatusNotFound, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("discourse: fetch %s: %w", path, err)
	}
	return body, resp.StatusCode, nil
}
