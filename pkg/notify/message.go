// Package notify implements the notification stage: classified events are
// rendered as kind-specific Block Kit messages and posted to the chat
// webhook.
package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/spamwatch/spamwatch/pkg/event"
)

var kindLabel = map[event.Kind]string{
	event.ProjectCreate:   "Project Created",
	event.ProjectRename:   "Project Renamed",
	event.ProjectTransfer: "Project Ownership Transferred",
	event.UserCreate:      "User Created",
	event.UserRename:      "User Renamed",
	event.IssueOpen:       "Issue Opened",
	event.IssueUpdate:     "Issue Updated",
	event.IssueClose:      "Issue Closed",
	event.IssueReopen:     "Issue Reopened",
	event.IssueNoteCreate: "Issue Note Created",
	event.IssueNoteUpdate: "Issue Note Updated",
	event.GroupCreate:     "Group Created",
	event.GroupRename:     "Group Renamed",
	event.SnippetCheck:    "Public Snippet Flagged",
}

// objectFields is the superset of retrieved-object fields the templates
// read. Every field is optional; absent keys simply leave blanks out of
// the rendered message.
type objectFields struct {
	Username          string `json:"username"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	State             string `json:"state"`
	WebURL            string `json:"web_url"`
	Bio               string `json:"bio"`
	PathWithNamespace string `json:"path_with_namespace"`
	FullPath          string `json:"full_path"`
	Description       string `json:"description"`
	Title             string `json:"title"`
	FileName          string `json:"file_name"`
	Body              string `json:"body"`
	CreatedAt         string `json:"created_at"`
	Author            struct {
		Name     string `json:"name"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"author"`
}

// timestampLayouts are the fractional-second UTC shapes the platform emits.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05.0000Z",
	"2006-01-02T15:04:05.000000Z",
	time.RFC3339,
	"2006-01-02 15:04:05 MST",
}

// formatCreatedAt renders a platform timestamp as "DD Month YYYY
// HH:MM:SS GMT". Unparseable input is passed through untouched.
func formatCreatedAt(raw string) string {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format("02 January 2006 15:04:05") + " GMT"
		}
	}
	return raw
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func mrkdwnSection(text string) goslack.Block {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// BuildMessage renders the Block Kit message for one classified event:
// a header naming the event, the kind's primary identifying fields, the
// created-at timestamp for non-user kinds, and the spam verdict.
func BuildMessage(kind event.Kind, envelope event.Envelope) ([]goslack.Block, error) {
	var fields objectFields
	if err := json.Unmarshal(envelope.EventData, &fields); err != nil {
		return nil, fmt.Errorf("decoding event data for kind %s: %w", kind, err)
	}

	label, ok := kindLabel[kind]
	if !ok {
		return nil, fmt.Errorf("no message template for kind %s", kind)
	}

	blocks := []goslack.Block{
		goslack.NewHeaderBlock(
			goslack.NewTextBlockObject(goslack.PlainTextType, label+" on GitLab", false, false),
		),
		mrkdwnSection(identityText(kind, fields)),
	}

	if !event.IsUser(kind) && fields.CreatedAt != "" {
		blocks = append(blocks, mrkdwnSection("*Created At:* "+formatCreatedAt(fields.CreatedAt)))
	}

	verdict := "Not Spam"
	if envelope.Spam() {
		verdict = "Spam"
	}
	blocks = append(blocks,
		mrkdwnSection("*Spam Classification:* "+verdict),
		mrkdwnSection("*Spam Score*: "+formatScore(envelope.Score)),
	)
	return blocks, nil
}

// identityText picks the primary identifying fields for the kind.
func identityText(kind event.Kind, f objectFields) string {
	switch {
	case event.IsUser(kind):
		text := fmt.Sprintf("*Username:* %s\n*Name:* %s\n*Email:* %s\n*State:* %s", f.Username, f.Name, f.Email, f.State)
		if f.WebURL != "" {
			text += fmt.Sprintf("\n*Profile URL:* <%s|Link>", f.WebURL)
		}
		if f.Bio != "" {
			text += "\n*Bio:* " + f.Bio
		}
		return text

	case event.IsProject(kind):
		text := fmt.Sprintf("*Name:* %s\n*Path:* %s", f.Name, f.PathWithNamespace)
		if f.Description != "" {
			text += "\n*Description:* " + f.Description
		}
		if f.WebURL != "" {
			text += fmt.Sprintf("\n*Project URL:* <%s|Link>", f.WebURL)
		}
		return text

	case event.IsIssue(kind):
		text := fmt.Sprintf("*Title:* %s\n*State:* %s", f.Title, f.State)
		if f.Description != "" {
			text += "\n*Description:* " + f.Description
		}
		if f.Author.Name != "" {
			text += "\n*Author:* " + f.Author.Name
		}
		if f.WebURL != "" {
			text += fmt.Sprintf("\n*Issue URL:* <%s|Link>", f.WebURL)
		}
		return text

	case event.IsIssueNote(kind):
		text := "*Note:* " + f.Body
		if f.Author.Name != "" {
			text += "\n*Author:* " + f.Author.Name
		}
		if f.WebURL != "" {
			text += fmt.Sprintf("\n*Note URL:* <%s|Link>", f.WebURL)
		}
		return text

	case event.IsGroup(kind):
		text := fmt.Sprintf("*Name:* %s\n*Path:* %s", f.Name, f.FullPath)
		if f.Description != "" {
			text += "\n*Description:* " + f.Description
		}
		if f.WebURL != "" {
			text += fmt.Sprintf("\n*Group URL:* <%s|Link>", f.WebURL)
		}
		return text

	default: // snippet_check
		text := fmt.Sprintf("*Title:* %s\n*File:* %s", f.Title, f.FileName)
		if f.Author.Name != "" {
			text += "\n*Author:* " + f.Author.Name
		}
		if f.Author.Email != "" {
			text += "\n*Author Email:* " + f.Author.Email
		}
		if f.WebURL != "" {
			text += fmt.Sprintf("\n*Snippet URL:* <%s|Link>", f.WebURL)
		}
		return text
	}
}
