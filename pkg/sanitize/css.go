package sanitize

import (
	"bytes"
	"strings"

	"github.com/gorilla/css/scanner"
)

// allowedProperties lists the CSS properties permitted in style attributes.
var allowedProperties = map[string]struct{}{
	"align":            {},
	"background-color": {},
	"border":           {},
	"border-bottom":    {},
	"border-collapse":  {},
	"border-left":      {},
	"border-radius":    {},
	"border-right":     {},
	"border-spacing":   {},
	"border-top":       {},
	"box-sizing":       {},
	"clear":            {},
	"color":            {},
	"display":          {},
	"float":            {},
	"font":             {},
	"font-family":      {},
	"font-size":        {},
	"font-style":       {},
	"font-weight":      {},
	"height":           {},
	"letter-spacing":   {},
	"line-height":      {},
	"list-style-type":  {},
	"margin":           {},
	"margin-bottom":    {},
	"margin-left":      {},
	"margin-right":     {},
	"margin-top":       {},
	"max-height":       {},
	"max-width":        {},
	"min-width":        {},
	"overflow":         {},
	"padding":          {},
	"padding-bottom":   {},
	"padding-left":     {},
	"padding-right":    {},
	"padding-top":      {},
	"table-layout":     {},
	"text-align":       {},
	"text-decoration":  {},
	"text-shadow":      {},
	"text-transform":   {},
	"vertical-align":   {},
	"white-space":      {},
	"width":            {},
	"word-break":       {},
}

// cssState handles one token, returning the next state or nil to reject the whole style.
type cssState func(b *bytes.Buffer, t *scanner.Token) cssState

// sanitizeStyle returns the allowed declarations of a style attribute.
func sanitizeStyle(input string) string {
	b := &bytes.Buffer{}
	scan := scanner.New(input)
	state := cssProperty
	for {
		t := scan.Next()
		switch t.Type {
		case scanner.TokenEOF:
			return strings.TrimSpace(b.String())
		case scanner.TokenError:
			return ""
		}
		if state = state(b, t); state == nil {
			return ""
		}
	}
}

// cssProperty expects the name of a property.
func cssProperty(b *bytes.Buffer, t *scanner.Token) cssState {
	switch t.Type {
	case scanner.TokenIdent:
		if _, ok := allowedProperties[strings.ToLower(t.Value)]; !ok {
			return cssSkip
		}
		b.WriteString(t.Value)
		return cssValue
	case scanner.TokenS:
		return cssProperty
	case scanner.TokenChar:
		if t.Value == ";" {
			return cssProperty
		}
	}
	return cssSkip
}

// cssSkip discards tokens through the end of the current declaration.
func cssSkip(_ *bytes.Buffer, t *scanner.Token) cssState {
	if t.Type == scanner.TokenChar && t.Value == ";" {
		return cssProperty
	}
	return cssSkip
}

// cssValue copies the value of an allowed property.  URLs are dropped since they may fetch remote
// content.
func cssValue(b *bytes.Buffer, t *scanner.Token) cssState {
	if t.Type == scanner.TokenURI {
		return nil
	}
	if t.Type == scanner.TokenFunction && strings.EqualFold(t.Value, "expression(") {
		return nil
	}
	b.WriteString(t.Value)
	if t.Type == scanner.TokenChar && t.Value == ";" {
		return cssProperty
	}
	return cssValue
}
