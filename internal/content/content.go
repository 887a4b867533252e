// Package content defines the proxy's internal content model.
//
// DESIGN: A content item is either text or an opaque image. Size
// accounting covers text items only; images pass through every stage
// untouched. Byte sizes drive cache quotas, character counts drive the
// response budget. Converters at the package edge translate to and from
// the MCP wire types so the engines never import the protocol library.
package content

import (
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
)

// Kind discriminates content items.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Item is a single piece of tool-result content.
type Item struct {
	Kind Kind

	// Text holds the payload for KindText items.
	Text string

	// Data and MIMEType carry KindImage payloads verbatim (base64).
	Data     string
	MIMEType string
}

// Text builds a text item.
func Text(s string) Item {
	return Item{Kind: KindText, Text: s}
}

// TextSize returns the total byte size across text items. Image items
// contribute nothing.
func TextSize(items []Item) int {
	total := 0
	for _, it := range items {
		if it.Kind == KindText {
			total += len(it.Text)
		}
	}
	return total
}

// TextChars returns the total character (rune) count across text items.
// Response-size thresholds are character budgets, not byte budgets.
func TextChars(items []Item) int {
	total := 0
	for _, it := range items {
		if it.Kind == KindText {
			total += utf8.RuneCountInString(it.Text)
		}
	}
	return total
}

// JoinText concatenates the text of all text items in order.
func JoinText(items []Item) string {
	var b strings.Builder
	for _, it := range items {
		if it.Kind == KindText {
			b.WriteString(it.Text)
		}
	}
	return b.String()
}

// FirstText returns the text of the first text item, or "".
func FirstText(items []Item) string {
	for _, it := range items {
		if it.Kind == KindText {
			return it.Text
		}
	}
	return ""
}

// FromMCP converts wire content into internal items. Unknown content kinds
// are dropped; the proxy only mediates text and images.
func FromMCP(in []mcp.Content) []Item {
	out := make([]Item, 0, len(in))
	for _, c := range in {
		switch v := c.(type) {
		case mcp.TextContent:
			out = append(out, Text(v.Text))
		case mcp.ImageContent:
			out = append(out, Item{Kind: KindImage, Data: v.Data, MIMEType: v.MIMEType})
		}
	}
	return out
}

// ToMCP converts internal items back into wire content.
func ToMCP(in []Item) []mcp.Content {
	out := make([]mcp.Content, 0, len(in))
	for _, it := range in {
		switch it.Kind {
		case KindText:
			out = append(out, mcp.NewTextContent(it.Text))
		case KindImage:
			out = append(out, mcp.NewImageContent(it.Data, it.MIMEType))
		}
	}
	return out
}
