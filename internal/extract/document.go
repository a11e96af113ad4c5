package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is the read-only view of a rendered page the extractor needs.
type Document interface {
	// SelectorTexts returns the text of every element matching selector, in
	// document order.
	SelectorTexts(selector string) []string
	// BodyText returns the visible text of the page body.
	BodyText() string
}

// HTMLDocument implements Document over a DOM snapshot.
type HTMLDocument struct {
	doc      *goquery.Document
	bodyText string
}

// NewHTMLDocument parses html. When bodyText is empty (for example when the
// page was loaded from disk rather than rendered), body text is derived from
// the markup with script, style, noscript and template content removed.
func NewHTMLDocument(html, bodyText string) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()
	if strings.TrimSpace(bodyText) == "" {
		var b strings.Builder
		collectText(doc.Find("body"), &b)
		bodyText = b.String()
	}
	return &HTMLDocument{doc: doc, bodyText: bodyText}, nil
}

// SelectorTexts implements Document.
func (d *HTMLDocument) SelectorTexts(selector string) []string {
	var out []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		var b strings.Builder
		collectText(s, &b)
		out = append(out, b.String())
	})
	return out
}

// BodyText implements Document.
func (d *HTMLDocument) BodyText() string {
	return d.bodyText
}

// collectText writes text nodes under s separated by spaces, so adjacent
// cells like <td>Total</td><td>20.00</td> do not run together.
func collectText(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			b.WriteString(c.Text())
			b.WriteByte(' ')
		case "#comment":
		default:
			collectText(c, b)
		}
	})
}
