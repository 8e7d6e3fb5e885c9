package action

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFile reads and parses the action document at path. The returned
// action's Source is path.
func ParseFile(path string) (Action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action document: %w", err)
	}
	return ParseBytes(data, path)
}

// Parse reads the whole document from r. source identifies the document in
// errors and becomes the action's Source.
func Parse(r io.Reader, source string) (Action, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read action document %s: %w", source, err)
	}
	return ParseBytes(data, source)
}

// ParseBytes parses a complete action document. It returns either a fully
// populated Action or a *ParseError; it never returns a partial action.
func ParseBytes(data []byte, source string) (Action, error) {
	root, err := readTree(data)
	if err != nil {
		return nil, malformed(source, "", err, "invalid XML")
	}
	if err := checkVersion(root, source); err != nil {
		return nil, err
	}

	el := root.firstElement()
	if el == nil {
		return nil, unsupported(source, root.path, "no action element")
	}
	if el.name != elemAction {
		return nil, unsupported(source, el.path, "expected <%s>, found <%s>", elemAction, el.name)
	}
	if n := len(root.childrenNamed(elemAction)); n > 1 {
		return nil, malformed(source, root.path, nil, "%d action elements, expected exactly one", n)
	}

	raw, ok := el.attr(attrType)
	if !ok {
		return nil, malformed(source, el.attrPath(attrType), nil, "missing required attribute")
	}
	build, ok := lookup(Type(raw))
	if !ok {
		return nil, unsupported(source, el.attrPath(attrType), "unknown action type %q", raw)
	}

	deleteOnLoad, err := boolAttr(el, attrDeleteOnLoad, source)
	if err != nil {
		return nil, err
	}

	return build(el, header{source: source, deleteOnLoad: deleteOnLoad})
}

func buildCreateWorkItem(el *element, h header) (Action, error) {
	wi := el.child(elemWorkItem)
	if wi == nil {
		return nil, malformed(h.source, el.path, nil, "missing required element %s", elemWorkItem)
	}

	var info WorkItemUpdateInfo
	if fields := wi.child(elemFields); fields != nil {
		for _, f := range fields.childrenNamed(elemField) {
			name, err := requiredAttr(f, attrName, h.source)
			if err != nil {
				return nil, err
			}
			info.Fields.Set(name, f.text.String())
		}
	}

	if atts := wi.child(elemAttachments); atts != nil {
		for _, a := range atts.childrenNamed(elemAttachment) {
			path, err := requiredAttr(a, attrPath, h.source)
			if err != nil {
				return nil, err
			}
			comment, _ := a.attr(attrComment)
			del, err := boolAttr(a, attrDeleteOnSave, h.source)
			if err != nil {
				return nil, err
			}
			info.Attachments = append(info.Attachments, AttachmentInfo{
				Path:         path,
				Comment:      comment,
				DeleteOnSave: del,
			})
		}
	}

	return &CreateWorkItem{header: h, workItem: info}, nil
}

// requiredAttr treats an empty or whitespace-only value the same as a
// missing attribute.
func requiredAttr(el *element, name, source string) (string, error) {
	v, ok := el.attr(name)
	if !ok {
		return "", malformed(source, el.attrPath(name), nil, "missing required attribute")
	}
	if strings.TrimSpace(v) == "" {
		return "", malformed(source, el.attrPath(name), nil, "empty required attribute")
	}
	return v, nil
}

// boolAttr reads an xs:boolean attribute; absent means false.
func boolAttr(el *element, name, source string) (bool, error) {
	v, ok := el.attr(name)
	if !ok {
		return false, nil
	}
	switch strings.TrimSpace(v) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, malformed(source, el.attrPath(name), nil, "invalid boolean %q", v)
	}
}
