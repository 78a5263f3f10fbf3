package clocksync

import (
	"context"
	"time"

	"github.com/mcdev12/bookiebutcher/go/clients/time_authority_client"
)

// AuthorityTime is one answer from the time authority.
type AuthorityTime struct {
	Time time.Time
	Zone string
}

// Authority is the remote source of truth for the current instant.
type Authority interface {
	Now(ctx context.Context) (AuthorityTime, error)
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(ctx context.Context) (AuthorityTime, error)

func (f AuthorityFunc) Now(ctx context.Context) (AuthorityTime, error) {
	return f(ctx)
}

// HTTPAuthority queries GET /v1/time on the feed gateway.
type HTTPAuthority struct {
	client *time_authority_client.TimeAuthorityClient
}

func NewHTTPAuthority(baseURL string) *HTTPAuthority {
	return &HTTPAuthority{client: time_authority_client.NewTimeAuthorityClient(baseURL)}
}

func (a *HTTPAuthority) Now(ctx context.Context) (AuthorityTime, error) {
	st, err := a.client.GetServerTime(ctx)
	if err != nil {
		return AuthorityTime{}, err
	}
	return AuthorityTime{Time: st.Time, Zone: st.Zone}, nil
}
