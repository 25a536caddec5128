package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/distcodep7/lamport/node"
)

// Client polls the admin endpoint of several processes.
type Client struct {
	Addrs  []string
	Client *http.Client
}

func NewClient(addrs ...string) *Client {
	return &Client{Addrs: addrs, Client: &http.Client{}}
}

// Ready returns nil when addr reports every node past the barrier.
func (c *Client) Ready(ctx context.Context, addr string) error {
	resp, err := c.get(ctx, addr, "ready")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Status(ctx context.Context, addr string) ([]node.Snapshot, error) {
	resp, err := c.get(ctx, addr, "status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []node.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode status from %s: %w", addr, err)
	}
	return out, nil
}

// ReadyAll checks every address concurrently.
func (c *Client) ReadyAll(ctx context.Context) map[string]error {
	return c.parallel(ctx, c.Ready)
}

func (c *Client) get(ctx context.Context, addr, path string) (*http.Response, error) {
	url := fmt.Sprintf("http://%s/%s", addr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("request %s: status %d", url, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) parallel(ctx context.Context, action func(context.Context, string) error) map[string]error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]error, len(c.Addrs))
	)
	for _, addr := range c.Addrs {
		wg.Go(func() {
			err := action(ctx, addr)
			mu.Lock()
			results[addr] = err
			mu.Unlock()
		})
	}
	wg.Wait()
	return results
}
