package action

import (
	"encoding/json"
)

// JSON form handed to out-of-process executors.

type fieldJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type attachmentJSON struct {
	Path         string `json:"path"`
	Comment      string `json:"comment,omitempty"`
	DeleteOnSave bool   `json:"delete_on_save"`
}

type workItemJSON struct {
	Fields      []fieldJSON      `json:"fields"`
	Attachments []attachmentJSON `json:"attachments"`
}

type createWorkItemJSON struct {
	Type         Type         `json:"type"`
	Source       string       `json:"source"`
	DeleteOnLoad bool         `json:"delete_on_load"`
	WorkItem     workItemJSON `json:"work_item"`
}

func (a *CreateWorkItem) MarshalJSON() ([]byte, error) {
	out := createWorkItemJSON{
		Type:         a.Type(),
		Source:       a.source,
		DeleteOnLoad: a.deleteOnLoad,
		WorkItem: workItemJSON{
			Fields:      make([]fieldJSON, 0, a.workItem.Fields.Len()),
			Attachments: make([]attachmentJSON, 0, len(a.workItem.Attachments)),
		},
	}
	for n, v := range a.workItem.Fields.All() {
		out.WorkItem.Fields = append(out.WorkItem.Fields, fieldJSON{Name: n, Value: v})
	}
	for _, att := range a.workItem.Attachments {
		out.WorkItem.Attachments = append(out.WorkItem.Attachments, attachmentJSON(att))
	}
	return json.Marshal(out)
}
