package time_authority_client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/bookiebutcher/go/clients"
)

// ErrMalformedResponse is returned when the authority answers with an unusable payload.
var ErrMalformedResponse = errors.New("malformed time authority response")

// TimeResponse is the wire shape of GET /v1/time.
type TimeResponse struct {
	ServerUTC      string `json:"server_utc"`
	ServerTimezone string `json:"server_timezone"`
}

// ServerTime is a parsed TimeResponse.
type ServerTime struct {
	Time time.Time
	Zone string
}

type TimeAuthorityClient struct {
	*clients.BaseClient
}

func NewTimeAuthorityClient(baseURL string) *TimeAuthorityClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &TimeAuthorityClient{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/")),
	}

	client.SetHeader(AcceptHeader, JSONMimeType)
	client.SetTimeout(10 * time.Second)

	return client
}

// GetServerTime fetches the authority's current instant and declared zone.
func (c *TimeAuthorityClient) GetServerTime(ctx context.Context) (ServerTime, error) {
	var resp TimeResponse
	if err := c.GetJSON(ctx, TimeEndpoint, &resp); err != nil {
		return ServerTime{}, err
	}
	return ParseTimeResponse(resp)
}

// ParseTimeResponse validates and converts the wire payload. A missing zone defaults to UTC.
func ParseTimeResponse(resp TimeResponse) (ServerTime, error) {
	if resp.ServerUTC == "" {
		return ServerTime{}, fmt.Errorf("%w: server_utc is empty", ErrMalformedResponse)
	}

	t, err := time.Parse(time.RFC3339Nano, resp.ServerUTC)
	if err != nil {
		return ServerTime{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	zone := resp.ServerTimezone
	if zone == "" {
		zone = "UTC"
	}

	return ServerTime{Time: t.UTC(), Zone: zone}, nil
}
