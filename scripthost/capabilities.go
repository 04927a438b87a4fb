// Package scripthost is the capability bridge between a loaded script and
// the agent's HTTP session: it exposes the HTTP and Utility namespaces a
// module script calls into, translates transport-level failures into the
// stable capability error codes, and enforces the one-shot finish protocol
// for a single module invocation.
package scripthost

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"

	"golang.org/x/net/html"

	"github.com/antchfx/htmlquery"

	"github.com/botscript-go/botscript/httpconn"
	"github.com/botscript-go/botscript/httpsession"
)

// ErrAlreadyFinished is returned by any capability call made after the
// owning module invocation has already completed (e.g. a stray call from
// an interpreter that kept script state alive past its run_<module> return).
var ErrAlreadyFinished = errors.New("scripthost: capability called after module finished")

// Capabilities is the concrete capability surface bound to one agent's
// session. One Capabilities instance lives for the agent's whole lifetime;
// Begin/Finish bracket each individual module invocation.
type Capabilities struct {
	session *httpsession.Session
	cb      Callbacks

	finished atomic.Bool
	module   atomic.Value // string
}

// New builds a Capabilities bound to session, using cb to reach the owning
// agent's server URL, log sinks and status store.
func New(session *httpsession.Session, cb Callbacks) *Capabilities {
	c := &Capabilities{session: session, cb: cb}
	c.finished.Store(true)
	c.module.Store("")
	return c
}

// Begin marks the start of one module invocation, making further
// capability calls valid until Finish is called.
func (c *Capabilities) Begin(module string) {
	c.module.Store(module)
	c.finished.Store(false)
}

// Finish marks the end of the current module invocation. Any HTTP, XPath or
// regex capability call after Finish returns ErrAlreadyFinished until the
// next Begin; the log and SetStatus calls are not checked.
func (c *Capabilities) Finish() {
	c.finished.Store(true)
}

func (c *Capabilities) currentModule() string {
	m, _ := c.module.Load().(string)
	return m
}

func (c *Capabilities) checkOpen() error {
	if c.finished.Load() {
		return ErrAlreadyFinished
	}
	return nil
}

// --- HTTP namespace -------------------------------------------------------

// Get issues a GET against an absolute URL.
func (c *Capabilities) Get(ctx context.Context, url string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	return translateHTTPErr(c.session.Get(ctx, url))
}

// GetPath issues a GET against the agent's current server URL joined with
// path.
func (c *Capabilities) GetPath(ctx context.Context, path string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	return translateHTTPErr(c.session.Get(ctx, c.resolve(path)))
}

// Post issues a url-encoded POST against an absolute URL.
func (c *Capabilities) Post(ctx context.Context, url, body string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	return translateHTTPErr(c.session.Post(ctx, url, body))
}

// PostPath issues a url-encoded POST against the agent's current server URL
// joined with path.
func (c *Capabilities) PostPath(ctx context.Context, path, body string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	return translateHTTPErr(c.session.Post(ctx, c.resolve(path), body))
}

// SubmitForm resolves the form located by xpath within page, overlays
// params on its defaults, and POSTs it.
func (c *Capabilities) SubmitForm(ctx context.Context, xpath, page string, params map[string]string, action string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	return translateHTTPErr(c.session.Submit(ctx, xpath, page, params, action))
}

func (c *Capabilities) resolve(path string) string {
	base := ""
	if c.cb.Server != nil {
		base = c.cb.Server()
	}
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// translateHTTPErr maps the distinguished transport and form-resolution
// sentinels onto their stable capability codes, leaving any other error
// (DNS failure, timeout, malformed URL) untranslated.
func translateHTTPErr(body string, err error) (string, error) {
	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, httpconn.ErrGzipFailure):
		return "", newCapError(CodeGzipFailure, err.Error())
	case errors.Is(err, httpsession.ErrInvalidXPath):
		return "", newCapError(CodeInvalidXPath, err.Error())
	case errors.Is(err, httpsession.ErrNoFormOrSubmit):
		return "", newCapError(CodeNoFormOrSubmit, err.Error())
	case errors.Is(err, httpsession.ErrSubmitNotInForm):
		return "", newCapError(CodeSubmitNotInForm, err.Error())
	case errors.Is(err, httpsession.ErrParamMismatch):
		return "", newCapError(CodeParamMismatch, err.Error())
	default:
		return "", err
	}
}

// --- Utility namespace -----------------------------------------------------

// GetByXPath returns the text content of the first node page matches xpath
// against, or "" if none match.
func (c *Capabilities) GetByXPath(page, xpath string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", newCapError(CodeInvalidXPath, err.Error())
	}
	node, err := htmlquery.Query(doc, xpath)
	if err != nil {
		return "", newCapError(CodeInvalidXPath, err.Error())
	}
	if node == nil {
		return "", nil
	}
	return htmlquery.InnerText(node), nil
}

// GetAllByXPath returns the text content of every node page matches xpath
// against.
func (c *Capabilities) GetAllByXPath(page, xpath string) ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, newCapError(CodeInvalidXPath, err.Error())
	}
	nodes, err := htmlquery.QueryAll(doc, xpath)
	if err != nil {
		return nil, newCapError(CodeInvalidXPath, err.Error())
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = htmlquery.InnerText(n)
	}
	return out, nil
}

// GetByRegex returns pattern's first captured group within text, or "" if
// pattern doesn't match or carries no capturing group at all — a pattern
// with no group never yields its whole match here.
func (c *Capabilities) GetByRegex(text, pattern string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", err
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", nil
	}
	return m[1], nil
}

// GetAllByRegex returns, for every non-overlapping match of pattern within
// text, the list of its captured groups (the whole match itself is not
// included, matching GetByRegex's group-only convention).
func (c *Capabilities) GetAllByRegex(text, pattern string) ([][]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	matches := re.FindAllStringSubmatch(text, -1)
	out := make([][]string, len(matches))
	for i, m := range matches {
		out[i] = m[1:]
	}
	return out, nil
}

// LogDebug, Log and LogError route a script's log calls to the owning
// agent's log FIFO at the matching level, tagged with the currently
// running module.
func (c *Capabilities) LogDebug(message string) { c.logAt(LogDebug, message) }
func (c *Capabilities) Log(message string)      { c.logAt(LogInfo, message) }
func (c *Capabilities) LogError(message string) { c.logAt(LogError, message) }

func (c *Capabilities) logAt(level LogLevel, message string) {
	if c.cb.Log != nil {
		c.cb.Log(level, c.currentModule(), message)
	}
}

// SetStatus mirrors key=value into the owning agent's status store for the
// currently running module.
func (c *Capabilities) SetStatus(key, value string) {
	if c.cb.SetStatus != nil {
		c.cb.SetStatus(c.currentModule(), key, value)
	}
}
