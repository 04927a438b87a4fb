package httpconn

import (
	"compress/gzip"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, string, string) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return srv, host, port
}

func rawGET(host, path string) []byte {
	return []byte(fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: keep-alive\r\n\r\n", path, host))
}

func dialConn(host, port string) *Conn {
	return New(host, port, 5*time.Second, nil)
}

func TestDoReadsContentLengthBody(t *testing.T) {
	_, host, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.Write([]byte("hello world"))
	})

	c := dialConn(host, port)
	defer c.Close()

	resp, err := c.Do(context.Background(), rawGET(host, "/"))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "hello world", string(resp.Body))
	require.Equal(t, "yes", resp.HeaderValue("X-Test"))
}

func TestDoDecodesChunkedBody(t *testing.T) {
	_, host, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Write([]byte("first-"))
		flusher.Flush()
		w.Write([]byte("second"))
		flusher.Flush()
	})

	c := dialConn(host, port)
	defer c.Close()

	resp, err := c.Do(context.Background(), rawGET(host, "/"))
	require.NoError(t, err)
	require.Equal(t, "first-second", string(resp.Body))
}

func TestDoDecodesGzipBody(t *testing.T) {
	_, host, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		gw.Write([]byte("compressed payload"))
		gw.Close()
	})

	c := dialConn(host, port)
	defer c.Close()

	resp, err := c.Do(context.Background(), rawGET(host, "/"))
	require.NoError(t, err)
	require.Equal(t, "compressed payload", string(resp.Body))
}

func TestDoReturnsGzipFailureOnCorruptBody(t *testing.T) {
	_, host, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write([]byte("not actually gzip"))
	})

	c := dialConn(host, port)
	defer c.Close()

	_, err := c.Do(context.Background(), rawGET(host, "/"))
	require.ErrorIs(t, err, ErrGzipFailure)
}

func TestDoReconnectsAfterServerClosesConnection(t *testing.T) {
	_, host, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Write([]byte("bye"))
	})

	c := dialConn(host, port)
	defer c.Close()

	resp, err := c.Do(context.Background(), rawGET(host, "/"))
	require.NoError(t, err)
	require.Equal(t, "bye", string(resp.Body))
	require.False(t, c.connected)

	// A second request against the same Conn must transparently reconnect.
	resp2, err := c.Do(context.Background(), rawGET(host, "/"))
	require.NoError(t, err)
	require.Equal(t, "bye", string(resp2.Body))
}

func TestDoHonorsPerRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	_, host, port := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})

	c := New(host, port, 50*time.Millisecond, nil)
	defer c.Close()

	_, err := c.Do(context.Background(), rawGET(host, "/"))
	require.Error(t, err)
}
