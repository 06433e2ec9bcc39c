package cachebust

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// referenceAttrs are the attributes whose values may point at a built asset.
var referenceAttrs = map[string]bool{
	"src":      true,
	"href":     true,
	"poster":   true,
	"data-src": true,
}

// Rewrite replaces every reference to a registered logical path in markup
// with the asset's hashed path. Tags without such references, text, comments
// and doctype are copied byte for byte.
func (c *Coordinator) Rewrite(markup []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(markup))
	var out bytes.Buffer
	out.Grow(len(markup))

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return out.Bytes(), nil
			}
			return nil, errors.WrapError(z.Err(), errors.CategoryValidation, "failed to tokenize markup").Build()
		case html.StartTagToken, html.SelfClosingTagToken:
			// Token() lowercases the tag name in the tokenizer buffer, so
			// keep an untouched copy of the raw bytes first.
			raw := append([]byte(nil), z.Raw()...)
			tok := z.Token()
			if c.rewriteAttrs(&tok) {
				out.WriteString(tok.String())
			} else {
				out.Write(raw)
			}
		default:
			out.Write(z.Raw())
		}
	}
}

func (c *Coordinator) rewriteAttrs(tok *html.Token) bool {
	changed := false
	for i, attr := range tok.Attr {
		if !referenceAttrs[attr.Key] {
			continue
		}
		if replaced, ok := c.RewriteReference(attr.Val); ok {
			tok.Attr[i].Val = replaced
			changed = true
		}
	}
	return changed
}

// RewriteReference rewrites a single URL reference. The leading form ("/",
// "./" or bare) and any query or fragment are preserved. External URLs and
// unknown paths are reported as not rewritten.
func (c *Coordinator) RewriteReference(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || isExternal(ref) {
		return "", false
	}

	p, suffix := ref, ""
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		p, suffix = ref[:i], ref[i:]
	}
	if p == "" {
		return "", false
	}

	lead := ""
	switch {
	case strings.HasPrefix(p, "/"):
		lead = "/"
	case strings.HasPrefix(p, "./"):
		lead = "./"
	}

	entry, ok := c.Lookup(p)
	if !ok {
		return "", false
	}
	return lead + strings.TrimPrefix(entry.HashedPath(), "/") + suffix, true
}

func isExternal(ref string) bool {
	if strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "#") {
		return true
	}
	if i := strings.Index(ref, ":"); i > 0 {
		// Scheme-qualified: http:, https:, data:, mailto:, javascript:
		return !strings.ContainsAny(ref[:i], "/?#")
	}
	return false
}
