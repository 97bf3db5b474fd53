package mutation

import "maps"

// Draft is the pending form state of one create or update. TargetID is
// empty for a create.
type Draft struct {
	TargetID string         `json:"target_id,omitempty"`
	Values   map[string]any `json:"values"`
	// Attachments holds the server paths of uploaded files per field.
	Attachments map[string][]string `json:"attachments,omitempty"`
	// Errors holds fields whose last upload failed.
	Errors map[string]string `json:"errors,omitempty"`
}

func emptyDraft() Draft {
	return Draft{Values: make(map[string]any)}
}

func (d Draft) clone() Draft {
	out := Draft{TargetID: d.TargetID, Values: maps.Clone(d.Values)}
	if out.Values == nil {
		out.Values = make(map[string]any)
	}
	if len(d.Attachments) > 0 {
		out.Attachments = make(map[string][]string, len(d.Attachments))
		for k, v := range d.Attachments {
			out.Attachments[k] = append([]string(nil), v...)
		}
	}
	if len(d.Errors) > 0 {
		out.Errors = maps.Clone(d.Errors)
	}
	return out
}

// Empty reports whether the draft carries no values.
func (d Draft) Empty() bool {
	return d.TargetID == "" && len(d.Values) == 0
}

// attachmentValue is the form value stored for uploaded paths: a single
// path as a string, several as a list.
func attachmentValue(paths []string) any {
	if len(paths) == 1 {
		return paths[0]
	}
	return append([]string(nil), paths...)
}
