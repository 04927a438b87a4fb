package httpsession

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mux http.Handler) (host string) {
	t.Helper()
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	h, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return "https://" + h + ":" + port
}

func TestGetFollowsRedirectAndPersistsCookies(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc123"})
		// A literal "http:" prefix marks this absolute per the redirect
		// policy; the underlying transport is TLS regardless of scheme
		// string (Session always speaks TLS), so this still reaches the
		// same test server.
		w.Header().Set("Location", "http:"+strings.TrimPrefix(base, "https:")+"/end")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "sid=abc123", r.Header.Get("Cookie"))
		w.Write([]byte("<html><head></head><body>done</body></html>"))
	})

	base = newTestServer(t, mux)
	s := New(nil)
	defer s.Close()

	body, err := s.Get(context.Background(), base+"/start")
	require.NoError(t, err)
	require.Contains(t, body, "done")
	require.Contains(t, body, `<meta name="location"`)
}

func TestResolveRedirectLocationPrependsHTTPForRelative(t *testing.T) {
	require.Equal(t, "http://example.com/next", resolveRedirectLocation("example.com", "/next"))
	require.Equal(t, "http://other.example/next", resolveRedirectLocation("example.com", "http://other.example/next"))
	// Only a literal "http:" prefix counts as absolute (§4.4); a bare
	// "https:" Location is treated as relative and gets the host prepended.
	require.Equal(t, "http://example.comhttps://other.example/next", resolveRedirectLocation("example.com", "https://other.example/next"))
}

func TestGetRewritesBareDisabledAttribute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head></head><body><input type="text" disabled></body></html>`))
	})

	base := newTestServer(t, mux)
	s := New(nil)
	defer s.Close()

	body, err := s.Get(context.Background(), base+"/page")
	require.NoError(t, err)
	require.Contains(t, body, `disabled="true"`)
}

func TestGetSkipsTidyForXMLResponses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><root><item disabled /></root>`))
	})

	base := newTestServer(t, mux)
	s := New(nil)
	defer s.Close()

	body, err := s.Get(context.Background(), base+"/feed.xml")
	require.NoError(t, err)
	require.False(t, strings.Contains(body, `disabled="true"`))
}

func TestPostSendsURLEncodedBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		buf, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "name=value", string(buf))
		w.Write([]byte("ok"))
	})

	base := newTestServer(t, mux)
	s := New(nil)
	defer s.Close()

	body, err := s.Post(context.Background(), base+"/submit", "name=value")
	require.NoError(t, err)
	require.Contains(t, body, "ok")
}

func TestChangeProxyRotatesRoundRobin(t *testing.T) {
	s := New(nil)
	n := s.SetProxyList([]string{"p1:8080", "p2:8080", "p3:8080"})
	require.Equal(t, 3, n)
	require.Equal(t, "p1:8080", s.CurrentProxy())

	s.ChangeProxy()
	require.Equal(t, "p2:8080", s.CurrentProxy())
	s.ChangeProxy()
	require.Equal(t, "p3:8080", s.CurrentProxy())
	s.ChangeProxy()
	require.Equal(t, "p1:8080", s.CurrentProxy())
}

func TestSubmitFormDetectsParamMismatch(t *testing.T) {
	page := `<html><body><form action="/go"><input type="text" name="q" value="default"/></form></body></html>`
	_, _, err := SubmitForm("//form", page, map[string]string{"nonexistent": "x"}, "")
	require.ErrorIs(t, err, ErrParamMismatch)
}

func TestSubmitFormOverlaysDefaults(t *testing.T) {
	page := `<html><body><form action="/go"><input type="text" name="q" value="default"/></form></body></html>`
	dest, body, err := SubmitForm("//form", page, map[string]string{"q": "override"}, "")
	require.NoError(t, err)
	require.Equal(t, "/go", dest)
	require.Equal(t, "q=override", body)
}
