package action

// Element and attribute names of the action document.
const (
	elemAction      = "Action"
	elemWorkItem    = "WorkItem"
	elemFields      = "Fields"
	elemField       = "Field"
	elemAttachments = "Attachments"
	elemAttachment  = "Attachment"

	attrVersion      = "Version"
	attrType         = "Type"
	attrDeleteOnLoad = "DeleteOnLoad"
	attrName         = "Name"
	attrPath         = "Path"
	attrComment      = "Comment"
	attrDeleteOnSave = "DeleteOnSave"
)

// RootElement is the root element name producers write. The parser does not
// enforce it.
const RootElement = "TeamMate"
