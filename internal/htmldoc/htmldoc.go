// Package htmldoc exposes the small slice of HTML tree navigation the
// scrapers need: find the first element matching a tag and a set of
// attribute predicates, and list descendant elements by tag.
package htmldoc

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is anything that can be searched for descendant elements
type Node interface {
	FindFirst(tag string, preds ...Predicate) (*Element, bool)
	FindAll(tag string, preds ...Predicate) []*Element
}

// Predicate constrains which elements match a search
type Predicate func(e *Element) bool

// Element is a single HTML element
type Element struct {
	sel *goquery.Selection
}

// Document is a parsed HTML page. It is also the root Element.
type Document struct {
	Element
}

var _ Node = (*Document)(nil)
var _ Node = (*Element)(nil)

// Parse builds a document tree from HTML text. The underlying parser is
// lenient, so malformed markup still produces a (possibly empty) tree.
func Parse(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return &Document{Element{sel: doc.Selection}}, nil
}

// FindFirst returns the first descendant in document order with the given
// tag name that satisfies every predicate
func (e *Element) FindFirst(tag string, preds ...Predicate) (*Element, bool) {
	var found *Element
	e.sel.Find(tag).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		el := &Element{sel: s}
		if matchesAll(el, preds) {
			found = el
			return false
		}
		return true
	})
	return found, found != nil
}

// FindAll returns every descendant with the given tag name that satisfies
// every predicate, in document order
func (e *Element) FindAll(tag string, preds ...Predicate) []*Element {
	var result []*Element
	e.sel.Find(tag).Each(func(_ int, s *goquery.Selection) {
		el := &Element{sel: s}
		if matchesAll(el, preds) {
			result = append(result, el)
		}
	})
	return result
}

// Attr returns the value of the named attribute and whether it was present
func (e *Element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

// AttrOr returns the value of the named attribute, or def when absent
func (e *Element) AttrOr(name, def string) string {
	return e.sel.AttrOr(name, def)
}

// Text returns the element's text content with surrounding whitespace removed
func (e *Element) Text() string {
	return strings.TrimSpace(e.sel.Text())
}

func matchesAll(e *Element, preds []Predicate) bool {
	for _, p := range preds {
		if !p(e) {
			return false
		}
	}
	return true
}

// AttrEquals matches elements whose attribute has exactly the given value
func AttrEquals(name, value string) Predicate {
	return func(e *Element) bool {
		v, ok := e.Attr(name)
		return ok && v == value
	}
}

// AttrEqualFold matches elements whose attribute equals value ignoring case
func AttrEqualFold(name, value string) Predicate {
	return func(e *Element) bool {
		v, ok := e.Attr(name)
		return ok && strings.EqualFold(strings.TrimSpace(v), value)
	}
}

// HasAttr matches elements carrying the attribute, whatever its value
func HasAttr(name string) Predicate {
	return func(e *Element) bool {
		_, ok := e.Attr(name)
		return ok
	}
}
