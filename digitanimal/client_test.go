package digitanimal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const snapshotBody = `{
	"success": true,
	"message": "",
	"data": {
		"devices": [
			{"DEVICE_COLLAR": "c1", "LAT": 40.1, "LNG": -3.7, "DEVICE_TIME": "2024-03-01 10:15:00", "DEVICE_ALARM": 0}
		],
		"history": []
	}
}`

func newTestClient() *Client {
	return NewClient(DefaultTimeouts())
}

func TestFetchSendsBasicAuthWithoutDateRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/get_device_info.php", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "farmer", user)
		require.Equal(t, "s3cret", pass)
		require.Empty(t, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, snapshotBody)
	}))
	defer srv.Close()

	resp, err := newTestClient().Fetch(context.Background(), "int-1", srv.URL+"/api/", NewCredentials("farmer", "s3cret"), nil)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Data.Devices, 1)
	require.Equal(t, "c1", resp.Data.Devices[0].Collar)
	require.Empty(t, resp.Data.History)
}

func TestFetchFormatsDateRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2024-03-01 00:00:00", r.URL.Query().Get("init_date"))
		require.Equal(t, "2024-03-02 23:59:59", r.URL.Query().Get("end_date"))
		_, _ = fmt.Fprint(w, `{"success": true, "message": "", "data": {"history": []}}`)
	}))
	defer srv.Close()

	dr := &DateRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 2, 23, 59, 59, 0, time.UTC),
	}
	resp, err := newTestClient().Fetch(context.Background(), "int-1", srv.URL+"/", NewCredentials("u", "p"), dr)
	require.NoError(t, err)
	require.Nil(t, resp.Data.Devices)
}

func TestFetchReturnsHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), "int-1", srv.URL+"/", NewCredentials("u", "p"), nil)
	require.Error(t, err)

	var se *HTTPStatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.StatusCode)
	require.True(t, se.Unauthorized())
	require.Equal(t, "nope", se.Body)

	code, ok := StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, code)
}

func TestFetchReturnsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"success": true, "data": {"devices": [{"LAT": 1}]}}`)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), "int-1", srv.URL+"/", NewCredentials("u", "p"), nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestFetchPoolTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = fmt.Fprint(w, snapshotBody)
	}))
	defer srv.Close()
	defer close(release)

	timeouts := DefaultTimeouts()
	timeouts.Pool = 50 * time.Millisecond
	c := NewClient(timeouts, WithMaxConnections(1))

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = c.Fetch(context.Background(), "int-1", srv.URL+"/", NewCredentials("u", "p"), nil)
	}()
	<-started

	require.Eventually(t, func() bool { return len(c.slots) == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.Fetch(context.Background(), "int-1", srv.URL+"/", NewCredentials("u", "p"), nil)
	require.ErrorIs(t, err, ErrPoolTimeout)
}

func TestCredentialsNeverPrintPassword(t *testing.T) {
	creds := NewCredentials("farmer", "s3cret")
	for _, out := range []string{
		fmt.Sprint(creds),
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%+v", creds),
		fmt.Sprintf("%#v", creds),
	} {
		require.NotContains(t, out, "s3cret")
		require.Contains(t, out, "farmer")
	}
	require.Equal(t, "s3cret", creds.Password())
}

func TestResolveBaseURL(t *testing.T) {
	require.Equal(t, DefaultBaseURL, ResolveBaseURL(""))
	require.Equal(t, "http://x/", ResolveBaseURL("http://x/"))
}

func TestDefaultTimeouts(t *testing.T) {
	require.Equal(t, Timeouts{
		Connect: 10 * time.Second,
		Read:    30 * time.Second,
		Write:   15 * time.Second,
		Pool:    5 * time.Second,
	}, DefaultTimeouts())
}

func shortReadClient() *Client {
	timeouts := DefaultTimeouts()
	timeouts.Read = 100 * time.Millisecond
	return NewClient(timeouts)
}

func TestFetchReadTimeoutOnHeaderStall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := shortReadClient().Fetch(context.Background(), "int-1", srv.URL+"/", NewCredentials("u", "p"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request device info")
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchReadTimeoutOnBodyStall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", fmt.Sprint(len(snapshotBody)))
		_, _ = fmt.Fprint(w, snapshotBody[:20])
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := shortReadClient().Fetch(context.Background(), "int-1", srv.URL+"/", NewCredentials("u", "p"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read device info")
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestDeadlineConnRefreshesPerOperation(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := &deadlineConn{Conn: client, read: 100 * time.Millisecond, write: 100 * time.Millisecond}
	defer conn.Close()

	go func() {
		buf := make([]byte, 1)
		_, _ = server.Read(buf)
		time.Sleep(70 * time.Millisecond)
		_, _ = server.Write([]byte("a"))
		time.Sleep(70 * time.Millisecond)
		_, _ = server.Write([]byte("b"))
	}()

	_, err := conn.Write([]byte("x"))
	require.NoError(t, err)

	buf := make([]byte, 1)
	for i := 0; i < 2; i++ {
		_, err = conn.Read(buf)
		require.NoError(t, err)
	}

	_, err = conn.Read(buf)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	require.True(t, netErr.Timeout())

	_, err = conn.Write([]byte("y"))
	require.True(t, errors.As(err, &netErr))
	require.True(t, netErr.Timeout())
}
