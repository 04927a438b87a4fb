package httpsession

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	methodGET  = "GET"
	methodPOST = "POST"
)

// target is a parsed request URL: host, port (defaulted from scheme) and
// the path+query that follows it.
type target struct {
	scheme string
	host   string
	port   string
	path   string
}

func parseTarget(raw string) (target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("httpsession: invalid url %q: %w", raw, err)
	}
	if u.Host == "" {
		return target{}, fmt.Errorf("httpsession: invalid url %q: no host", raw)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}

	return target{scheme: scheme, host: host, port: port, path: path}, nil
}

// buildRequest renders a full HTTP/1.1 request, matching util::build_request:
// when a proxy is in play the request line carries the absolute URL rather
// than a bare path.
func buildRequest(method string, t target, headers map[string]string, body string, viaProxy bool) []byte {
	var sb strings.Builder

	path := t.path
	if viaProxy {
		path = fmt.Sprintf("%s://%s%s", t.scheme, t.host, t.path)
	}

	sb.WriteString(method)
	sb.WriteByte(' ')
	sb.WriteString(path)
	sb.WriteString(" HTTP/1.1\r\n")
	sb.WriteString("Host: ")
	sb.WriteString(t.host)
	sb.WriteString("\r\n")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(headers[k])
		sb.WriteString("\r\n")
	}

	if body != "" {
		sb.WriteString("Content-Type: application/x-www-form-urlencoded\r\n")
		sb.WriteString("Content-Length: ")
		sb.WriteString(strconv.Itoa(len(body)))
		sb.WriteString("\r\n")
	}

	sb.WriteString("\r\n")
	sb.WriteString(body)

	return []byte(sb.String())
}

// BuildProxyProbeRequest renders a raw GET request in proxy form (absolute
// URI in the request line) against serverURL, for use as the fixed
// verification request a proxy candidate is checked with (§4.5: "GET / ...
// synthesized from the current session's server() base URL").
func BuildProxyProbeRequest(serverURL string, headers map[string]string) ([]byte, error) {
	t, err := parseTarget(serverURL)
	if err != nil {
		return nil, err
	}
	return buildRequest(methodGET, t, headers, "", true), nil
}

// urlEncode mirrors util::url_encode: unreserved characters pass through,
// space becomes '+', everything else is percent-escaped.
func urlEncode(s string) string {
	const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_.~"
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case strings.IndexByte(unreserved, c) >= 0:
			sb.WriteByte(c)
		case c == ' ':
			sb.WriteByte('+')
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}
