package parser

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// XMLDocument wraps a parsed XML (or SOAP) body for XPath lookups
type XMLDocument struct {
	doc *xmlquery.Node
}

// ParseXML parses an XML string
func ParseXML(s string) (*XMLDocument, error) {
	doc, err := xmlquery.Parse(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return &XMLDocument{doc: doc}, nil
}

// Root returns the name of the document element
func (d *XMLDocument) Root() string {
	for n := d.doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n.Data
		}
	}
	return ""
}

// ElementsByXPath returns every node matched by expr
func (d *XMLDocument) ElementsByXPath(expr string) ([]*xmlquery.Node, error) {
	nodes, err := xmlquery.QueryAll(d.doc, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return nodes, nil
}

// ElementByXPath returns the first node matched by expr
func (d *XMLDocument) ElementByXPath(expr string) (*xmlquery.Node, error) {
	node, err := xmlquery.Query(d.doc, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	if node == nil {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, expr)
	}
	return node, nil
}

// ElementsByName returns every element with the given tag name
func (d *XMLDocument) ElementsByName(name string) ([]*xmlquery.Node, error) {
	return d.ElementsByXPath("//" + name)
}

// ElementByIndex returns the zero-based index-th element named name
func (d *XMLDocument) ElementByIndex(name string, index int) (*xmlquery.Node, error) {
	return d.ElementByXPath(fmt.Sprintf("(//%s)[%d]", name, index+1))
}

// ElementByAncestors resolves a chain of element names, outermost first
func (d *XMLDocument) ElementByAncestors(names ...string) (*xmlquery.Node, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty ancestor chain", ErrElementNotFound)
	}
	return d.ElementByXPath("//" + strings.Join(names, "/"))
}

// Text returns the inner text of the first node matched by expr
func (d *XMLDocument) Text(expr string) (string, error) {
	node, err := d.ElementByXPath(expr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(node.InnerText()), nil
}

// Attribute returns an attribute of the first node matched by expr
func (d *XMLDocument) Attribute(expr, attr string) (string, error) {
	node, err := d.ElementByXPath(expr)
	if err != nil {
		return "", err
	}
	for _, a := range node.Attr {
		if a.Name.Local == attr {
			return a.Value, nil
		}
	}
	return "", fmt.Errorf("%w: attribute %s on %s", ErrElementNotFound, attr, expr)
}

// ElementExists reports whether expr matches at least one node
func (d *XMLDocument) ElementExists(expr string) bool {
	n, err := d.ElementCount(expr)
	return err == nil && n > 0
}

// ElementCount returns the number of nodes matched by expr
func (d *XMLDocument) ElementCount(expr string) (int, error) {
	nodes, err := d.ElementsByXPath(expr)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}
