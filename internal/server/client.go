package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pfctl/internal/session"
)

const clientTimeout = 5 * time.Second

// ErrUnreachable is returned when no server answers on the address.
var ErrUnreachable = errors.New("pfctl server is not running")

// Client reads from a running server.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server listening on addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: clientTimeout},
	}
}

// Sessions returns the server's forwards.
func (c *Client) Sessions(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session
	if err := c.get(ctx, "/api/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// PortAvailable asks the server whether port is free for a new forward,
// counting the ports its own forwards hold.
func (c *Client) PortAvailable(ctx context.Context, port int) (bool, error) {
	var p portPayload
	if err := c.get(ctx, "/api/ports/"+strconv.Itoa(port), &p); err != nil {
		return false, err
	}
	return p.Available, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w on %s: %v", ErrUnreachable, c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorPayload
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("GET %s: %s", path, resp.Status)
		}
		return fmt.Errorf("GET %s: %s", path, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
