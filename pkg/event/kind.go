// Package event defines the closed set of event discriminators that flow
// through the pipeline, and the classification of raw GitLab system-hook
// payloads into those kinds.
package event

import "encoding/json"

// Kind identifies one of the webhook event types the pipeline processes.
type Kind string

// The full set of recognized event kinds. A payload that does not map to
// one of these is rejected at ingress; no later stage sees unknown kinds.
const (
	ProjectCreate   Kind = "project_create"
	ProjectRename   Kind = "project_rename"
	ProjectTransfer Kind = "project_transfer"
	UserCreate      Kind = "user_create"
	UserRename      Kind = "user_rename"
	IssueOpen       Kind = "issue_open"
	IssueUpdate     Kind = "issue_update"
	IssueClose      Kind = "issue_close"
	IssueReopen     Kind = "issue_reopen"
	IssueNoteCreate Kind = "issue_note_create"
	IssueNoteUpdate Kind = "issue_note_update"
	GroupCreate     Kind = "group_create"
	GroupRename     Kind = "group_rename"
	SnippetCheck    Kind = "snippet_check"
)

// Kinds lists every recognized kind in a stable order.
var Kinds = []Kind{
	ProjectCreate, ProjectRename, ProjectTransfer,
	UserCreate, UserRename,
	IssueOpen, IssueUpdate, IssueClose, IssueReopen,
	IssueNoteCreate, IssueNoteUpdate,
	GroupCreate, GroupRename,
	SnippetCheck,
}

var known = func() map[Kind]bool {
	m := make(map[Kind]bool, len(Kinds))
	for _, k := range Kinds {
		m[k] = true
	}
	return m
}()

// Valid reports whether k is one of the recognized kinds.
func Valid(k Kind) bool { return known[k] }

// IsProject reports whether k is a project-related kind.
func IsProject(k Kind) bool {
	return k == ProjectCreate || k == ProjectRename || k == ProjectTransfer
}

// IsUser reports whether k is a user-related kind.
func IsUser(k Kind) bool { return k == UserCreate || k == UserRename }

// IsIssue reports whether k is an issue-related kind.
func IsIssue(k Kind) bool {
	return k == IssueOpen || k == IssueUpdate || k == IssueClose || k == IssueReopen
}

// IsIssueNote reports whether k is an issue-note kind.
func IsIssueNote(k Kind) bool { return k == IssueNoteCreate || k == IssueNoteUpdate }

// IsGroup reports whether k is a group-related kind.
func IsGroup(k Kind) bool { return k == GroupCreate || k == GroupRename }

// issueActions are the object_attributes.action values that map to an
// issue_<action> kind.
var issueActions = map[string]Kind{
	"open":   IssueOpen,
	"close":  IssueClose,
	"reopen": IssueReopen,
	"update": IssueUpdate,
}

// KindFromWebhook classifies a raw webhook body into a Kind.
//
// Classification priority:
//  1. object_kind "note" on an Issue: issue_note_create when created_at
//     equals updated_at, issue_note_update otherwise. Missing attributes
//     mean the event is unhandled.
//  2. object_kind "issue" with a recognized action: issue_<action>.
//  3. A top-level event_name that is itself a recognized kind.
//
// The second return value is false when the body is malformed or describes
// an event the pipeline does not handle.
func KindFromWebhook(body []byte) (Kind, bool) {
	var payload struct {
		EventName        string `json:"event_name"`
		ObjectKind       string `json:"object_kind"`
		ObjectAttributes struct {
			Action       string          `json:"action"`
			NoteableType string          `json:"noteable_type"`
			CreatedAt    json.RawMessage `json:"created_at"`
			UpdatedAt    json.RawMessage `json:"updated_at"`
		} `json:"object_attributes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}

	if payload.ObjectKind == "note" {
		attrs := payload.ObjectAttributes
		if attrs.NoteableType != "Issue" || attrs.CreatedAt == nil || attrs.UpdatedAt == nil {
			return "", false
		}
		if string(attrs.CreatedAt) == string(attrs.UpdatedAt) {
			return IssueNoteCreate, true
		}
		return IssueNoteUpdate, true
	}

	if payload.ObjectKind == "issue" {
		if k, ok := issueActions[payload.ObjectAttributes.Action]; ok {
			return k, true
		}
		return "", false
	}

	if k := Kind(payload.EventName); Valid(k) {
		return k, true
	}
	return "", false
}
