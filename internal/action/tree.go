package action

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// element is a minimal read-only DOM node. text holds the concatenated
// character data of the element and all its descendants.
type element struct {
	name     string
	path     string
	attrs    []xml.Attr
	children []*element
	text     strings.Builder
}

func (e *element) attr(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (e *element) attrPath(name string) string {
	return e.path + "@" + name
}

func (e *element) firstElement() *element {
	if len(e.children) == 0 {
		return nil
	}
	return e.children[0]
}

func (e *element) child(name string) *element {
	for _, c := range e.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (e *element) childrenNamed(name string) []*element {
	var out []*element
	for _, c := range e.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// readTree parses a complete UTF-8 XML document and returns its root element.
func readTree(data []byte) (*element, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		root  *element
		stack []*element
		seen  []map[string]int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local, attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("line %d: multiple root elements", line(dec))
				}
				el.path = el.name
				root = el
			} else {
				parent := stack[len(stack)-1]
				counts := seen[len(seen)-1]
				counts[el.name]++
				el.path = parent.path + "/" + el.name
				if n := counts[el.name]; n > 1 {
					el.path += "[" + strconv.Itoa(n) + "]"
				}
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
			seen = append(seen, map[string]int{})
		case xml.EndElement:
			stack = stack[:len(stack)-1]
			seen = seen[:len(seen)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, fmt.Errorf("line %d: text outside root element", line(dec))
				}
				continue
			}
			for _, el := range stack {
				el.text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("document has no root element")
	}
	return root, nil
}

func line(dec *xml.Decoder) int {
	l, _ := dec.InputPos()
	return l
}
