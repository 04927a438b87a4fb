package scripthost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botscript-go/botscript/httpsession"
)

func newTestCaps(t *testing.T, srv *httptest.Server) (*Capabilities, []string, map[string]string) {
	t.Helper()
	var logs []string
	status := make(map[string]string)

	cb := Callbacks{
		Server: func() string { return srv.URL },
		Log: func(level LogLevel, module, message string) {
			logs = append(logs, message)
		},
		SetStatus: func(module, key, value string) {
			status[key] = value
		},
	}
	caps := New(httpsession.New(nil), cb)
	return caps, logs, status
}

func TestCapabilityCallBeforeBeginIsRejected(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, _, _ := newTestCaps(t, srv)
	_, err := caps.Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestCapabilityCallAfterFinishIsRejected(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, _, _ := newTestCaps(t, srv)
	caps.Begin("checker")
	caps.Finish()

	_, err := caps.Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestGetPathResolvesAgainstServer(t *testing.T) {
	var gotPath string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	caps, _, _ := newTestCaps(t, srv)
	caps.Begin("checker")

	body, err := caps.GetPath(context.Background(), "/status")
	require.NoError(t, err)
	// Non-XML responses come back tidied, with the location meta injected.
	require.Equal(t, "<html><head>\n<meta name=\"location\" content=\""+srv.URL+"/status\" />\n</head><body>ok</body></html>", body)
	require.Equal(t, "/status", gotPath)
}

func TestSetStatusRecordsUnderCurrentModule(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, _, status := newTestCaps(t, srv)
	caps.Begin("checker")
	caps.SetStatus("balance", "42")

	require.Equal(t, "42", status["balance"])
}

func TestLogRoutesToCallback(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, logs, _ := newTestCaps(t, srv)
	caps.Begin("checker")
	caps.Log("hello")
	caps.LogError("boom")

	require.Equal(t, []string{"hello", "boom"}, logs)
}

func TestGetByXPathReturnsInnerText(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, _, _ := newTestCaps(t, srv)
	caps.Begin("checker")

	page := `<html><body><div id="balance">123.45</div></body></html>`
	text, err := caps.GetByXPath(page, `//div[@id="balance"]`)
	require.NoError(t, err)
	require.Equal(t, "123.45", text)
}

func TestGetByXPathReturnsCapabilityErrorOnBadExpression(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, _, _ := newTestCaps(t, srv)
	caps.Begin("checker")

	_, err := caps.GetByXPath(`<html></html>`, `///`)
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, CodeInvalidXPath, capErr.Code)
}

func TestGetAllByRegexReturnsAllMatches(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, _, _ := newTestCaps(t, srv)
	caps.Begin("checker")

	matches, err := caps.GetAllByRegex("a1 b2 c3", `[a-z](\d)`)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1"}, {"2"}, {"3"}}, matches)
}

func TestGetByRegexReturnsEmptyWhenPatternHasNoGroup(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, _, _ := newTestCaps(t, srv)
	caps.Begin("checker")

	match, err := caps.GetByRegex("a1 b2 c3", `[a-z]\d`)
	require.NoError(t, err)
	require.Equal(t, "", match)
}

func TestSubmitFormTranslatesParamMismatch(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	caps, _, _ := newTestCaps(t, srv)
	caps.Begin("checker")

	page := `<html><body><form action="/login"><input type="submit" name="go"/></form></body></html>`
	_, err := caps.SubmitForm(context.Background(), `//input[@name="go"]`, page, map[string]string{"unexpected": "x"}, "")

	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, CodeParamMismatch, capErr.Code)
}
