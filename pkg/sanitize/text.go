package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// From http://daringfireball.net/2010/07/improved_regex_for_matching_urls
var urlRE = regexp.MustCompile("(?i)\\b((?:[a-z][\\w-]+:(?:/{1,3}|[a-z0-9%])|www\\d{0,3}[.]|[a-z0-9.\\-]+[.][a-z]{2,4}/)(?:[^\\s()<>]+|\\(([^\\s()<>]+|(\\([^\\s()<>]+\\)))*\\))+(?:\\(([^\\s()<>]+|(\\([^\\s()<>]+\\)))*\\)|[^\\s`!()\\[\\]{};:'\".,<>?«»“”‘’]))")

var lineBreaks = strings.NewReplacer("\r\n", "<br/>\n", "\r", "<br/>\n", "\n", "<br/>\n")

// TextToHTML escapes plain text and converts URLs and line breaks to HTML.
func TextToHTML(text string) string {
	text = html.EscapeString(text)
	text = urlRE.ReplaceAllStringFunc(text, wrapURL)
	return lineBreaks.Replace(text)
}

// wrapURL wraps an escaped URL in a link.
func wrapURL(url string) string {
	href := strings.ReplaceAll(url, "&amp;", "&")
	if !strings.Contains(href, "://") {
		href = "http://" + href
	}
	return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`,
		html.EscapeString(href), url)
}

// Snippet collapses whitespace in text and truncates it to at most n characters.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if n <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) > n {
		return string(runes[:n])
	}
	return text
}
