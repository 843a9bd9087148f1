package status

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"resty.dev/v3"
)

// Client queries a status Server.
type Client struct {
	cli *resty.Client
}

// NewClient returns a client for the status server at addr.
// addr may be a bare "host:port" or a full "http://host:port" url.
func NewClient(addr string) *Client {
	addr = strings.TrimSuffix(addr, "/")
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{cli: resty.New().SetBaseURL(addr)}
}

// Status fetches the receiver's state, counters, and active peers.
func (c *Client) Status(ctx context.Context) (StatusResp, error) {
	sr := StatusResp{}
	res, err := c.cli.R().
		SetContext(ctx).
		SetExpectResponseContentType(CONTENT_TYPE).
		SetResult(&(sr.Body)).
		Get(EP_STATUS)
	if err != nil {
		return sr, err
	} else if res.IsError() {
		return sr, fmt.Errorf("status request failed (%d): %s", res.StatusCode(), res.String())
	}
	return sr, nil
}

// Records fetches up to limit of the most recent deliveries, newest last.
// A limit of 0 fetches every delivery the server holds.
func (c *Client) Records(ctx context.Context, limit int) ([]Entry, error) {
	rr := RecordsResp{}
	res, err := c.cli.R().
		SetContext(ctx).
		SetExpectResponseContentType(CONTENT_TYPE).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&(rr.Body)).
		Get(EP_RECORDS)
	if err != nil {
		return nil, err
	} else if res.IsError() {
		return nil, fmt.Errorf("records request failed (%d): %s", res.StatusCode(), res.String())
	}
	return rr.Body.Records, nil
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	return c.cli.Close()
}
