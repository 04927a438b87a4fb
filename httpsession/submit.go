package httpsession

import (
	"errors"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// queryOne returns the first node xpath selects within doc, or nil if it
// selects nothing. A malformed xpath expression is reported as an error.
func queryOne(doc *html.Node, xpath string) (*html.Node, error) {
	return htmlquery.Query(doc, xpath)
}

// Errors mirroring the capability-call codes of §6 (201-204); scripthost
// maps these to the stable CapabilityError codes.
var (
	ErrInvalidXPath    = errors.New("httpsession: invalid xpath")
	ErrNoFormOrSubmit  = errors.New("httpsession: xpath does not select a form or submit element")
	ErrSubmitNotInForm = errors.New("httpsession: submit element is not inside a form")
	ErrParamMismatch   = errors.New("httpsession: parameter not present in form")
)

var baseURLRe = regexp.MustCompile(`(?i)((.*?://[a-zA-Z0-9.\-]*)(:[0-9]+)?)`)

// pageBaseURL extracts the scheme://host (plus explicit port) from the
// <meta name="location"> tag a prior tidy pass injected into the page,
// matching util::base_url/util::location.
func pageBaseURL(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	loc := findLocationMeta(doc)
	if loc == "" {
		return ""
	}
	m := baseURLRe.FindStringSubmatch(loc)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func findLocationMeta(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "meta" {
		var name, content string
		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "name":
				name = a.Val
			case "content":
				content = a.Val
			}
		}
		if name == "location" {
			return content
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v := findLocationMeta(c); v != "" {
			return v
		}
	}
	return ""
}

// formParam is one ordered (name, defaultValue) pair collected from a form.
type formParam struct {
	name  string
	value string
}

// SubmitForm resolves a form (or a submit control inside one) selected by an
// XPath expression against page, overlays the caller-supplied input values
// on top of the form's own defaults, and returns the resolved target URL and
// url-encoded POST body. It never performs the request itself — callers pass
// the result to Post.
//
// Mirrors webclient::submit: locate node by xpath, walk up to the enclosing
// <form> if the node itself is a submit control, collect every named input
// (special-casing image inputs and <select> selected options), then demand
// every caller-supplied parameter be consumed by a form field.
func SubmitForm(xpath, page string, inputParams map[string]string, action string) (targetURL string, body string, err error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", "", ErrInvalidXPath
	}

	node, xerr := queryOne(doc, xpath)
	if xerr != nil {
		return "", "", ErrInvalidXPath
	}
	if node == nil {
		return "", "", ErrNoFormOrSubmit
	}

	form := node
	if form.Data != "form" {
		if attr(form, "type") != "submit" {
			return "", "", ErrNoFormOrSubmit
		}
		submit := form
		for form != nil && form.Data != "form" {
			form = form.Parent
		}
		if form == nil {
			return "", "", ErrSubmitNotInForm
		}
		node = submit
	}

	params := extractParameters(form, node, false)

	remaining := make(map[string]string, len(inputParams))
	for k, v := range inputParams {
		remaining[k] = v
	}

	var sb strings.Builder
	for _, p := range params {
		value := p.value
		if v, ok := remaining[p.name]; ok {
			value = v
			delete(remaining, p.name)
		}
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(urlEncode(p.name))
		sb.WriteByte('=')
		sb.WriteString(urlEncode(value))
	}

	if len(remaining) > 0 {
		return "", "", ErrParamMismatch
	}

	dest := pageBaseURL(page)
	if action != "" {
		if strings.HasPrefix(action, "http") {
			dest = action
		} else {
			dest += action
		}
	} else if formAction := attr(form, "action"); formAction != "" {
		if strings.HasPrefix(formAction, "http") {
			dest = formAction
		} else {
			dest += formAction
		}
	}

	return dest, sb.String(), nil
}

// extractParameters walks the form subtree collecting named input values,
// mirroring util::extract_parameters's recursive traversal and its
// image/select/submit special cases.
func extractParameters(node, submit *html.Node, found bool) []formParam {
	var out []formParam

	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}

		switch c.Data {
		case "input", "button":
			name := attr(c, "name")
			typ := attr(c, "type")
			if typ == "image" {
				if name != "" {
					out = append(out, formParam{name + ".x", ""}, formParam{name + ".y", ""})
				}
				continue
			}
			if name == "" {
				continue
			}
			isSubmitType := typ == "submit"
			if !isSubmitType || c == submit || (node == submit && !found) {
				out = append(out, formParam{name, attr(c, "value")})
				found = found || isSubmitType
			}

		case "select":
			name := attr(c, "name")
			if name == "" {
				continue
			}
			for opt := c.FirstChild; opt != nil; opt = opt.NextSibling {
				if opt.Type == html.ElementNode && opt.Data == "option" && hasAttr(opt, "selected") {
					out = append(out, formParam{name, attr(opt, "value")})
				}
			}

		default:
			if c.FirstChild != nil {
				nextSubmit := submit
				if submit == node {
					nextSubmit = c
				}
				out = append(out, extractParameters(c, nextSubmit, found)...)
			}
		}
	}

	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}
