package duplicant

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/set"
	"github.com/meridian-io/duplicant/transport"
)

// replies larger than this indicate something other than the tracker is
// answering on the endpoint
const maxResponseSize = 1024 * 1024

type ClientOptions struct {
	// Users can provide their own http client with TLS config if needed
	Client *http.Client
	// The address of endpoint in the format `<scheme>://<host>:<port>`
	Endpoint string
}

// Client calls the tracker over HTTP. Server side errors come back as the
// same typed errors in `transport` the service returned, so callers can
// inspect them with errors.As regardless of which side of the wire they are
// on.
type Client struct {
	opts ClientOptions
}

func NewClient(opts ClientOptions) (*Client, error) {
	set.Default(&opts.Client, &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     2_000,
			MaxIdleConns:        2_000,
			MaxIdleConnsPerHost: 2_000,
			IdleConnTimeout:     60 * time.Second,
		},
	})

	if len(opts.Endpoint) == 0 {
		return nil, errors.New("opts.Endpoint is empty; must provide an http endpoint")
	}

	return &Client{opts: opts}, nil
}

func (c *Client) AppsCreate(ctx context.Context, req *transport.AppInfo) error {
	return c.do(ctx, transport.RPCAppsCreate, req, nil)
}

func (c *Client) AppsList(ctx context.Context, res *transport.AppsListResponse) error {
	return c.do(ctx, transport.RPCAppsList, &transport.AppsListRequest{}, res)
}

func (c *Client) DupsAdd(ctx context.Context, req *transport.DupsAddRequest,
	res *transport.DupsAddResponse) error {
	return c.do(ctx, transport.RPCDupsAdd, req, res)
}

func (c *Client) DupsModify(ctx context.Context, req *transport.DupsModifyRequest,
	res *transport.DupsModifyResponse) error {
	return c.do(ctx, transport.RPCDupsModify, req, res)
}

func (c *Client) DupsQuery(ctx context.Context, req *transport.DupsQueryRequest,
	res *transport.DupsQueryResponse) error {
	return c.do(ctx, transport.RPCDupsQuery, req, res)
}

func (c *Client) DupsSync(ctx context.Context, req *transport.DupsSyncRequest,
	res *transport.DupsSyncResponse) error {
	return c.do(ctx, transport.RPCDupsSync, req, res)
}

// do posts req as JSON and decodes the response into res when res is not nil.
// Non 200 responses are decoded into the typed transport errors.
func (c *Client) do(ctx context.Context, path string, req, res any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Errorf("while encoding request payload: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s%s", c.opts.Endpoint, path), bytes.NewReader(payload))
	if err != nil {
		return errors.Errorf("while building request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.Client.Do(r)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Errorf("while reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var reply transport.Reply
		if err := json.Unmarshal(body, &reply); err != nil || reply.Code == 0 {
			return errors.Errorf("unexpected response '%s'; %s", resp.Status, body)
		}
		return transport.FromReply(&reply)
	}

	if res == nil {
		return nil
	}
	if err := json.Unmarshal(body, res); err != nil {
		return errors.Errorf("while decoding response body: %w", err)
	}
	return nil
}

// WithNoTLS returns ClientOptions suitable for use with NON-TLS clients
func WithNoTLS(address string) ClientOptions {
	return ClientOptions{
		Endpoint: fmt.Sprintf("http://%s", address),
		Client: &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:     2_000,
				MaxIdleConns:        2_000,
				MaxIdleConnsPerHost: 2_000,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

// WithTLS returns ClientOptions suitable for use with TLS clients
func WithTLS(tls *tls.Config, address string) ClientOptions {
	return ClientOptions{
		Endpoint: fmt.Sprintf("https://%s", address),
		Client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     tls,
				MaxConnsPerHost:     2_000,
				MaxIdleConns:        2_000,
				MaxIdleConnsPerHost: 2_000,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}
