package time_authority_client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetServerTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TimeEndpoint, r.URL.Path)
		assert.Equal(t, JSONMimeType, r.Header.Get(AcceptHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"server_utc":"2025-10-31T19:00:00.250000+00:00","server_timezone":"UTC"}`))
	}))
	defer srv.Close()

	client := NewTimeAuthorityClient(srv.URL + "/")
	st, err := client.GetServerTime(context.Background())
	require.NoError(t, err)

	want := time.Date(2025, 10, 31, 19, 0, 0, 250_000_000, time.UTC)
	assert.True(t, want.Equal(st.Time), "got %s", st.Time)
	assert.Equal(t, "UTC", st.Zone)
}

func TestGetServerTimeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewTimeAuthorityClient(srv.URL).GetServerTime(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestParseTimeResponse(t *testing.T) {
	tests := []struct {
		name    string
		resp    TimeResponse
		want    time.Time
		zone    string
		wantErr bool
	}{
		{
			name: "zulu",
			resp: TimeResponse{ServerUTC: "2025-10-31T19:00:00Z", ServerTimezone: "UTC"},
			want: time.Date(2025, 10, 31, 19, 0, 0, 0, time.UTC),
			zone: "UTC",
		},
		{
			name: "offset converted to utc",
			resp: TimeResponse{ServerUTC: "2025-10-31T14:00:00-05:00"},
			want: time.Date(2025, 10, 31, 19, 0, 0, 0, time.UTC),
			zone: "UTC",
		},
		{name: "empty", resp: TimeResponse{}, wantErr: true},
		{name: "garbage", resp: TimeResponse{ServerUTC: "yesterday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeResponse(tt.resp)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.Time))
			assert.Equal(t, tt.zone, got.Zone)
		})
	}
}
