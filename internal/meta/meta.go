// Package meta fetches diagnostic network metadata from the measurement host.
// Purely informational: the supervisor logs it and stamps the serving
// endpoint into the result envelope, failures never affect an attempt.
package meta

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Info describes the network path between this host and the measurement
// service, as the service sees it.
type Info struct {
	IP      string
	Colo    string
	Country string
	ASOrg   string
}

type Client struct {
	base   *url.URL
	client *http.Client
}

func NewClient(baseURL string) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("base URL needs a scheme and a host")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	return &Client{
		base:   parsed,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Fetch queries the trace and meta endpoints concurrently and merges the
// answers, preferring the richer meta fields where both respond.
func (c *Client) Fetch(ctx context.Context) (Info, error) {
	var trace map[string]string
	var m struct {
		ClientIP       string `json:"clientIp"`
		Colo           string `json:"colo"`
		Country        string `json:"country"`
		ASOrganization string `json:"asOrganization"`
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trace, err = c.trace(ctx)
		return err
	})
	g.Go(func() error {
		return c.getJSON(ctx, "/meta", &m)
	})
	if err := g.Wait(); err != nil {
		return Info{}, err
	}

	info := Info{
		IP:      m.ClientIP,
		Colo:    m.Colo,
		Country: m.Country,
		ASOrg:   m.ASOrganization,
	}
	if info.IP == "" {
		info.IP = trace["ip"]
	}
	if info.Colo == "" {
		info.Colo = trace["colo"]
	}
	if info.Country == "" {
		info.Country = trace["loc"]
	}
	return info, nil
}

// trace parses the key=value lines of /cdn-cgi/trace.
func (c *Client) trace(ctx context.Context) (map[string]string, error) {
	body, err := c.get(ctx, "/cdn-cgi/trace")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = body.Close()
	}()

	kv := make(map[string]string)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		kv[key] = value
	}
	return kv, scanner.Err()
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()
	return json.NewDecoder(body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}
