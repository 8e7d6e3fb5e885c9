// Package action models deferred actions dropped into the inbox by external
// producers and parses them from their on-disk XML form.
package action

// Type is the discriminator carried in Action/@Type.
type Type string

const (
	TypeCreateWorkItem Type = "CreateWorkItem"
)

// Action is a parsed deferred action. The set of implementations is closed:
// every variant lives in this package and is listed in the registry.
type Action interface {
	Type() Type
	// Source is the identifier the document was parsed from (usually its path).
	Source() string
	// DeleteOnLoad reports whether the source document is removed once the
	// action has been consumed.
	DeleteOnLoad() bool

	isAction()
}

type header struct {
	source       string
	deleteOnLoad bool
}

func (h header) Source() string     { return h.source }
func (h header) DeleteOnLoad() bool { return h.deleteOnLoad }

// CreateWorkItem asks the executor to create a work item.
type CreateWorkItem struct {
	header
	workItem WorkItemUpdateInfo
}

func (*CreateWorkItem) Type() Type { return TypeCreateWorkItem }
func (*CreateWorkItem) isAction()  {}

// WorkItem returns a copy of the payload; mutating it does not affect the action.
func (a *CreateWorkItem) WorkItem() WorkItemUpdateInfo {
	return a.workItem.clone()
}

// NewCreateWorkItem builds an action outside the parser, e.g. for producers
// and tests. The payload is copied.
func NewCreateWorkItem(source string, deleteOnLoad bool, info WorkItemUpdateInfo) *CreateWorkItem {
	return &CreateWorkItem{
		header:   header{source: source, deleteOnLoad: deleteOnLoad},
		workItem: info.clone(),
	}
}

type WorkItemUpdateInfo struct {
	Fields      Fields
	Attachments []AttachmentInfo
}

func (w WorkItemUpdateInfo) clone() WorkItemUpdateInfo {
	out := WorkItemUpdateInfo{Fields: w.Fields.clone()}
	if w.Attachments != nil {
		out.Attachments = append([]AttachmentInfo(nil), w.Attachments...)
	}
	return out
}

// AttachmentInfo references a file by path. The file contents are never read here.
type AttachmentInfo struct {
	Path         string
	Comment      string
	DeleteOnSave bool
}

// Attachments returns the attachments carried by a, or nil for variants
// without attachments.
func Attachments(a Action) []AttachmentInfo {
	switch v := a.(type) {
	case *CreateWorkItem:
		return append([]AttachmentInfo(nil), v.workItem.Attachments...)
	default:
		return nil
	}
}
