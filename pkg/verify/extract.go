package verify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spamwatch/spamwatch/pkg/event"
)

// extractEmail pulls the originating actor's email out of a webhook
// payload. Missing fields yield an empty string, not an error; only group
// kinds can fail, because they consult the platform API.
func (p *Processor) extractEmail(ctx context.Context, kind event.Kind, payload []byte) (string, error) {
	switch {
	case event.IsProject(kind):
		var body struct {
			OwnerEmail string `json:"owner_email"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", nil
		}
		return body.OwnerEmail, nil

	case event.IsUser(kind):
		var body struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", nil
		}
		return body.Email, nil

	case event.IsIssue(kind) || event.IsIssueNote(kind):
		var body struct {
			User struct {
				Email string `json:"email"`
			} `json:"user"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", nil
		}
		return body.User.Email, nil

	case event.IsGroup(kind):
		var body struct {
			GroupID int64 `json:"group_id"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", nil
		}
		return p.groupOwnerEmail(ctx, body.GroupID)
	}
	return "", nil
}

// groupOwnerEmail resolves the email of a group's highest-privileged
// member. Ties on access_level resolve to the last member returned by the
// API. A member entry without an email falls back to the user record.
func (p *Processor) groupOwnerEmail(ctx context.Context, groupID int64) (string, error) {
	members, err := p.platform.GroupMembers(ctx, groupID)
	if err != nil {
		return "", fmt.Errorf("fetching members of group %d: %w", groupID, err)
	}
	if len(members) == 0 {
		return "", nil
	}

	owner := members[0]
	for _, m := range members[1:] {
		if m.AccessLevel >= owner.AccessLevel {
			owner = m
		}
	}

	if owner.Email != "" {
		return owner.Email, nil
	}
	email, err := p.platform.UserEmail(ctx, owner.ID)
	if err != nil {
		return "", fmt.Errorf("fetching user %d for group %d owner email: %w", owner.ID, groupID, err)
	}
	return email, nil
}
