// Package sanitize makes message bodies safe to embed in the browser UI.
package sanitize

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	cssSafe = regexp.MustCompile(".*")

	// bodyPolicy runs after style attributes have been filtered by styleFilter.
	bodyPolicy = bluemonday.UGCPolicy().
			AllowElements("center", "font").
			AllowAttrs("color", "face", "size").OnElements("font").
			AllowAttrs("style").Matching(cssSafe).Globally().
			AddTargetBlankToFullyQualifiedLinks(true).
			RequireNoReferrerOnLinks(true)

	// textPolicy removes all markup.
	textPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)
)

// HTML sanitizes a message body while attempting to preserve inline CSS styling.  Scripts, event
// handlers and unsafe URLs are removed, and absolute links open in a new window.
func HTML(input string) (string, error) {
	b := &bytes.Buffer{}
	if err := styleFilter(b, strings.NewReader(input)); err != nil {
		return "", err
	}
	return bodyPolicy.Sanitize(b.String()), nil
}

// Text strips all markup from input and collapses whitespace.
func Text(input string) string {
	return strings.Join(strings.Fields(html.UnescapeString(textPolicy.Sanitize(input))), " ")
}

// styleFilter copies HTML tokens from r to w, rewriting style attributes to contain only allowed
// CSS properties.
func styleFilter(w io.Writer, r io.Reader) error {
	bw := bufio.NewWriter(w)
	tag := make([]byte, 0, 256)
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			return bw.Flush()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				if _, err := bw.Write(z.Raw()); err != nil {
					return err
				}
				continue
			}
			tag = append(tag[:0], '<')
			tag = append(tag, name...)
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				value := string(val)
				isStyle := strings.EqualFold(string(key), "style")
				if isStyle {
					value = sanitizeStyle(value)
				}
				if isStyle && value == "" {
					continue
				}
				tag = append(tag, ' ')
				tag = append(tag, key...)
				tag = append(tag, '=', '"')
				tag = append(tag, html.EscapeString(value)...)
				tag = append(tag, '"')
			}
			if tt == html.SelfClosingTagToken {
				tag = append(tag, '/')
			}
			if _, err := bw.Write(append(tag, '>')); err != nil {
				return err
			}
		default:
			if _, err := bw.Write(z.Raw()); err != nil {
				return err
			}
		}
	}
}
