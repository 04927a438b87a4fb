// Package httpsession implements the pooled, cookie-aware, redirect-following
// HTTPS client a single agent issues its scripted requests through: one
// Session owns a map of (host,port) connections, a shared cookie jar, an
// optional single-hop proxy, and the content-rewriting pass every non-XML
// response goes through before a script sees it.
package httpsession

import (
	"context"
	"fmt"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/botscript-go/botscript/httpconn"
)

const maxRedirects = 3

// requestTimeout is the per-request deadline (§5 "Timeouts").
const requestTimeout = 15 * time.Second

// Session is not safe for concurrent use by multiple goroutines: the owning
// agent serializes all HTTP capability calls through its executor, matching
// "single-writer" discipline of §5.
type Session struct {
	logger *zap.Logger

	mu      sync.Mutex
	conns   map[string]*httpconn.Conn
	headers uaProfile
	cookies map[string]string

	proxyList []string
	proxyIdx  int
}

// New creates a Session with a randomly selected useragent profile, chosen
// once for the lifetime of the session and shared by every connection it
// opens.
func New(logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		logger:  logger.Named("httpsession"),
		conns:   make(map[string]*httpconn.Conn),
		headers: randomUA(),
		cookies: make(map[string]string),
	}
}

// Headers returns a copy of the session's default outbound header set (the
// useragent profile, without a Cookie entry), for collaborators such as
// proxychecker that need to synthesize requests outside the session's own
// connection pool.
func (s *Session) Headers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		h[k] = v
	}
	return h
}

// Close tears down every pooled connection.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = make(map[string]*httpconn.Conn)
}

// currentProxy returns the active proxy "host:port", or "" if none.
func (s *Session) currentProxy() string {
	if len(s.proxyList) == 0 {
		return ""
	}
	return s.proxyList[s.proxyIdx]
}

// ChangeProxy rotates to the next proxy in the verified list, round-robin,
// matching proxy_::next_proxy(). A no-op if fewer than two proxies are
// known.
func (s *Session) ChangeProxy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.proxyList) == 0 {
		return
	}
	s.proxyIdx = (s.proxyIdx + 1) % len(s.proxyList)
}

// CurrentProxy reports the active proxy string, or "" if requests are
// currently direct.
func (s *Session) CurrentProxy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentProxy()
}

// SetProxyList replaces the session's candidate proxies with good, meaning
// only those verified reports good == true for them, and returns the
// number retained. An empty list clears the session back to direct
// requests. The caller (agent, via proxychecker) is responsible for running
// the actual verification; Session only stores the result.
func (s *Session) SetProxyList(good []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxyList = append([]string(nil), good...)
	s.proxyIdx = 0
	return len(s.proxyList)
}

func (s *Session) connFor(host, port string) *httpconn.Conn {
	key := host + ":" + port
	if c, ok := s.conns[key]; ok {
		return c
	}
	c := httpconn.New(host, port, requestTimeout, s.logger)
	s.conns[key] = c
	return c
}

// Get performs an HTTPS GET against rawURL, following redirects and
// applying the content-rewriting pass.
func (s *Session) Get(ctx context.Context, rawURL string) (string, error) {
	return s.do(ctx, methodGET, rawURL, "", maxRedirects)
}

// Post performs an HTTPS POST with a url-encoded body against rawURL.
func (s *Session) Post(ctx context.Context, rawURL, body string) (string, error) {
	return s.do(ctx, methodPOST, rawURL, body, maxRedirects)
}

func (s *Session) do(ctx context.Context, method, rawURL, body string, remainingRedirects int) (string, error) {
	t, err := parseTarget(rawURL)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	proxy := s.currentProxy()
	headers := s.snapshotHeadersLocked()
	var connHost, connPort string
	if proxy != "" {
		connHost, connPort = splitProxy(proxy)
	} else {
		connHost, connPort = t.host, t.port
	}
	conn := s.connFor(connHost, connPort)
	s.mu.Unlock()

	req := buildRequest(method, t, headers, body, proxy != "")

	resp, err := conn.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("httpsession: %s %s: %w", method, rawURL, err)
	}

	s.storeCookies(resp.Header)

	location := resp.HeaderValue("Location")
	if location == "" || remainingRedirects <= 0 {
		text := string(resp.Body)
		if !strings.HasSuffix(strings.ToLower(t.path), ".xml") {
			text = tidy(text)
			text = storeLocation(text, rawURL)
		}
		return text, nil
	}

	location = resolveRedirectLocation(t.host, location)
	return s.do(ctx, methodGET, location, "", remainingRedirects-1)
}

// resolveRedirectLocation applies the spec's absolute/relative detection: a
// leading "http:" marks an absolute URL, anything else is treated as
// relative and gets "http://<requestHost>" prepended verbatim (matching
// webclient::request_finish, which does not carry the originating port
// through a relative redirect).
func resolveRedirectLocation(requestHost, location string) string {
	if strings.HasPrefix(location, "http:") {
		return location
	}
	return "http://" + requestHost + location
}

// snapshotHeadersLocked builds the outbound header set for one request:
// the useragent profile plus the current Cookie header, if any. Caller
// must hold s.mu.
func (s *Session) snapshotHeadersLocked() map[string]string {
	h := make(map[string]string, len(s.headers)+1)
	for k, v := range s.headers {
		h[k] = v
	}
	if cookie := s.cookieHeaderLocked(); cookie != "" {
		h["Cookie"] = cookie
	}
	return h
}

// storeCookies extracts name=value pairs (up to the first ';') from every
// Set-Cookie header line and merges them into the jar, matching
// webclient::store_cookies.
func (s *Session) storeCookies(header map[string][]string) {
	lines := header[textproto.CanonicalMIMEHeaderKey("Set-Cookie")]
	if len(lines) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		name, value, ok := splitCookiePair(line)
		if ok {
			s.cookies[name] = value
		}
	}
}

func splitCookiePair(line string) (name, value string, ok bool) {
	end := strings.IndexByte(line, ';')
	if end >= 0 {
		line = line[:end]
	}
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:eq]), strings.TrimSpace(line[eq+1:]), true
}

func (s *Session) cookieHeaderLocked() string {
	if len(s.cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.cookies))
	for k := range s.cookies {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, k := range names {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(s.cookies[k])
	}
	return sb.String()
}

// Submit resolves the form/submit element selected by xpath within page,
// overlays inputParams on the form's own defaults, and POSTs the result.
func (s *Session) Submit(ctx context.Context, xpath, page string, inputParams map[string]string, action string) (string, error) {
	dest, body, err := SubmitForm(xpath, page, inputParams, action)
	if err != nil {
		return "", err
	}
	return s.Post(ctx, dest, body)
}

func splitProxy(proxy string) (host, port string) {
	idx := strings.LastIndexByte(proxy, ':')
	if idx < 0 {
		return proxy, "443"
	}
	return proxy[:idx], proxy[idx+1:]
}
