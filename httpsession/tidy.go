package httpsession

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// bareDisabledRe matches a bare `disabled` attribute inside an <input> tag,
// i.e. one written without "=value" at all (HTML4-style boolean attribute),
// which Go's html parser already understands but which downstream XPath
// consumers expect spelled out as disabled="true".
var bareDisabledRe = regexp.MustCompile(`(?i)(<input\b[^>]*?\s)disabled\b(\s*(?:[^=\s>][^>]*)?>)`)

// tidy rewrites bare `disabled` attributes to `disabled="true"` and then
// re-serializes the page through Go's HTML parser so downstream XPath
// queries see well-formed markup, matching util::tidy's two responsibilities
// (attribute fixup + "tidy" well-formedness pass) without requiring
// libtidy: Go's html.Parse already performs the structural repair
// (implicit html/head/body, auto-closing tags) that tidy's Clean step did.
func tidy(page string) string {
	fixed := bareDisabledRe.ReplaceAllString(page, `${1}disabled="true"${2}`)

	doc, err := html.Parse(strings.NewReader(fixed))
	if err != nil {
		return fixed
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return fixed
	}
	return buf.String()
}

// storeLocation injects <meta name="location" content="<url>"> right after
// the opening <head> tag so a script can recover the effective URL of the
// page it is looking at, matching util::store_location.
func storeLocation(page, requestURL string) string {
	idx := strings.Index(strings.ToLower(page), "<head>")
	if idx < 0 {
		return page
	}
	tag := "\n<meta name=\"location\" content=\"" + requestURL + "\" />\n"
	return page[:idx+len("<head>")] + tag + page[idx+len("<head>"):]
}
