package proxychecker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botscript-go/botscript/httpsession"
)

func startTLSServer(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u.Host
}

func TestCheckReturnsOnlyGoodProxies(t *testing.T) {
	good := startTLSServer(t, "farbflut detected")
	bad := startTLSServer(t, "nothing here")

	req, err := httpsession.BuildProxyProbeRequest("https://example.invalid/", map[string]string{"User-Agent": "test"})
	require.NoError(t, err)

	predicate := func(body string) bool {
		return strings.Contains(body, "farbflut")
	}

	results := Check(context.Background(), []string{good, bad}, req, predicate, nil)
	require.Equal(t, []string{good}, results)
}

func TestCheckReturnsEmptyForUnreachableHost(t *testing.T) {
	req, err := httpsession.BuildProxyProbeRequest("https://example.invalid/", nil)
	require.NoError(t, err)

	results := Check(context.Background(), []string{"127.0.0.1:1"}, req, func(string) bool { return true }, nil)
	require.Empty(t, results)
}

func TestCheckIsCommutativeInInputOrder(t *testing.T) {
	good1 := startTLSServer(t, "ok-1")
	good2 := startTLSServer(t, "ok-2")

	req, err := httpsession.BuildProxyProbeRequest("https://example.invalid/", nil)
	require.NoError(t, err)
	predicate := func(body string) bool { return true }

	resultA := Check(context.Background(), []string{good1, good2}, req, predicate, nil)
	resultB := Check(context.Background(), []string{good2, good1}, req, predicate, nil)

	require.ElementsMatch(t, resultA, resultB)
	require.Len(t, resultA, 2)
}
