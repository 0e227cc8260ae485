package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromWebhook(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind Kind
		wantOK   bool
	}{
		{
			name:     "user create by event_name",
			body:     `{"event_name":"user_create","email":"a@b","user_id":7}`,
			wantKind: UserCreate,
			wantOK:   true,
		},
		{
			name:     "project transfer by event_name",
			body:     `{"event_name":"project_transfer","project_id":3}`,
			wantKind: ProjectTransfer,
			wantOK:   true,
		},
		{
			name:     "group rename by event_name",
			body:     `{"event_name":"group_rename","group_id":9}`,
			wantKind: GroupRename,
			wantOK:   true,
		},
		{
			name:     "snippet check by event_name",
			body:     `{"event_name":"snippet_check"}`,
			wantKind: SnippetCheck,
			wantOK:   true,
		},
		{
			name:     "issue open by object_kind and action",
			body:     `{"object_kind":"issue","object_attributes":{"action":"open"}}`,
			wantKind: IssueOpen,
			wantOK:   true,
		},
		{
			name:     "issue reopen by object_kind and action",
			body:     `{"object_kind":"issue","object_attributes":{"action":"reopen"}}`,
			wantKind: IssueReopen,
			wantOK:   true,
		},
		{
			name:   "issue with unknown action",
			body:   `{"object_kind":"issue","object_attributes":{"action":"merge"}}`,
			wantOK: false,
		},
		{
			name: "new note on issue",
			body: `{"object_kind":"note","object_attributes":{"noteable_type":"Issue",` +
				`"created_at":"2023-05-01 10:00:00 UTC","updated_at":"2023-05-01 10:00:00 UTC"}}`,
			wantKind: IssueNoteCreate,
			wantOK:   true,
		},
		{
			name: "edited note on issue",
			body: `{"object_kind":"note","object_attributes":{"noteable_type":"Issue",` +
				`"created_at":"2023-05-01 10:00:00 UTC","updated_at":"2023-05-01 10:05:00 UTC"}}`,
			wantKind: IssueNoteUpdate,
			wantOK:   true,
		},
		{
			name:   "note on merge request is unhandled",
			body:   `{"object_kind":"note","object_attributes":{"noteable_type":"MergeRequest","created_at":"x","updated_at":"x"}}`,
			wantOK: false,
		},
		{
			name:   "note missing timestamps is unhandled",
			body:   `{"object_kind":"note","object_attributes":{"noteable_type":"Issue"}}`,
			wantOK: false,
		},
		{
			name: "note classification wins over event_name",
			body: `{"event_name":"user_create","object_kind":"note","object_attributes":` +
				`{"noteable_type":"Issue","created_at":"t","updated_at":"t"}}`,
			wantKind: IssueNoteCreate,
			wantOK:   true,
		},
		{
			name:   "unknown event_name",
			body:   `{"event_name":"project_destroy"}`,
			wantOK: false,
		},
		{
			name:   "empty body",
			body:   `{}`,
			wantOK: false,
		},
		{
			name:   "malformed JSON",
			body:   `{"event_name":`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindFromWebhook([]byte(tt.body))
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantKind, kind)
				assert.True(t, Valid(kind))
			}
		})
	}
}

func TestValid(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, Valid(k), k)
	}
	assert.False(t, Valid("project_destroy"))
	assert.False(t, Valid(""))
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsProject(ProjectTransfer))
	assert.True(t, IsUser(UserRename))
	assert.True(t, IsIssue(IssueClose))
	assert.True(t, IsIssueNote(IssueNoteUpdate))
	assert.True(t, IsGroup(GroupCreate))

	assert.False(t, IsProject(UserCreate))
	assert.False(t, IsUser(SnippetCheck))
	assert.False(t, IsIssue(IssueNoteCreate))
}
