package action

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
)

// Render encodes a as a complete action document that ParseBytes accepts.
// Source is not part of the document.
func Render(a Action) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	w := tokenWriter{enc: enc}
	w.start(RootElement, xmlAttr(attrVersion, CurrentVersion))
	switch v := a.(type) {
	case *CreateWorkItem:
		w.start(elemAction,
			xmlAttr(attrType, string(v.Type())),
			xmlAttr(attrDeleteOnLoad, strconv.FormatBool(v.DeleteOnLoad())))
		renderWorkItem(&w, v.workItem)
		w.end(elemAction)
	default:
		return nil, fmt.Errorf("render: unsupported action %T", a)
	}
	w.end(RootElement)

	if w.err != nil {
		return nil, fmt.Errorf("render: %w", w.err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func renderWorkItem(w *tokenWriter, wi WorkItemUpdateInfo) {
	w.start(elemWorkItem)
	if wi.Fields.Len() > 0 {
		w.start(elemFields)
		for name, value := range wi.Fields.All() {
			w.start(elemField, xmlAttr(attrName, name))
			if value != "" {
				w.text(value)
			}
			w.end(elemField)
		}
		w.end(elemFields)
	}
	if len(wi.Attachments) > 0 {
		w.start(elemAttachments)
		for _, at := range wi.Attachments {
			attrs := []xml.Attr{xmlAttr(attrPath, at.Path)}
			if at.Comment != "" {
				attrs = append(attrs, xmlAttr(attrComment, at.Comment))
			}
			attrs = append(attrs, xmlAttr(attrDeleteOnSave, strconv.FormatBool(at.DeleteOnSave)))
			w.start(elemAttachment, attrs...)
			w.end(elemAttachment)
		}
		w.end(elemAttachments)
	}
	w.end(elemWorkItem)
}

func xmlAttr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// tokenWriter keeps the first encoding error so the render code can stay linear.
type tokenWriter struct {
	enc *xml.Encoder
	err error
}

func (w *tokenWriter) emit(t xml.Token) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(t)
	}
}

func (w *tokenWriter) start(name string, attrs ...xml.Attr) {
	w.emit(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *tokenWriter) end(name string) {
	w.emit(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *tokenWriter) text(s string) {
	w.emit(xml.CharData(s))
}
