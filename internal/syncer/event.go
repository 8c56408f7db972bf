package syncer

import (
	"fmt"
	"strings"

	"github.com/roach88/searchsync/internal/doc"
)

// Type is an event type of the form "<kind>.<action>".
type Type string

const (
	ProfileCreated  Type = "profile.created"
	ProfileUpdated  Type = "profile.updated"
	ProfileDeleted  Type = "profile.deleted"
	ActivityCreated Type = "activity.created"
	ActivityUpdated Type = "activity.updated"
	ActivityDeleted Type = "activity.deleted"
	MessageCreated  Type = "message.created"
	MessageUpdated  Type = "message.updated"
	MessageDeleted  Type = "message.deleted"
	SkillAdded      Type = "skill.added"
	SkillRemoved    Type = "skill.removed"
)

// Types lists every recognized event type.
var Types = []Type{
	ProfileCreated, ProfileUpdated, ProfileDeleted,
	ActivityCreated, ActivityUpdated, ActivityDeleted,
	MessageCreated, MessageUpdated, MessageDeleted,
	SkillAdded, SkillRemoved,
}

// ParseType validates an event type name.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Kind returns the entity kind whose document the event changes. Skill
// changes rewrite the owning profile.
func (t Type) Kind() doc.Kind {
	name, _, _ := strings.Cut(string(t), ".")
	if name == "skill" {
		return doc.KindProfile
	}
	return doc.Kind(name)
}

// IsSkill reports whether t is a skill change.
func (t Type) IsSkill() bool {
	return t == SkillAdded || t == SkillRemoved
}

// Action returns the part after the dot: created, updated, deleted, added
// or removed.
func (t Type) Action() string {
	_, action, _ := strings.Cut(string(t), ".")
	return action
}

// Property names carried in Event.Properties.
const (
	PropUserID       = "userId"
	PropGroupID      = "groupId"
	PropAppID        = "appId"
	PropCollectionID = "messageCollectionId"
)

// Event is one lifecycle notification from the source-of-record.
//
// Payload is the entity as JSON. Skill events carry only the person's "id".
// Properties hold routing metadata such as the acting user.
type Event struct {
	Type       Type              `json:"type"`
	Payload    doc.Document      `json:"payload"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ID returns the document ID the event targets.
func (e Event) ID() string {
	return e.Payload.ID()
}

// Key identifies the document for ordering purposes. Skill events key on
// the profile they change so they order with that user's profile events.
func (e Event) Key() string {
	id := e.ID()
	if e.Type.IsSkill() {
		id = e.skillUser()
	}
	return string(e.Type.Kind()) + ":" + id
}

// skillUser is the person a skill event changes: the payload id, or the
// acting user when the payload names none.
func (e Event) skillUser() string {
	if id := doc.NormalizeUserID(e.ID()); id != "" {
		return id
	}
	return e.UserID()
}

// UserID returns the acting user from the properties.
func (e Event) UserID() string {
	return doc.NormalizeUserID(e.Properties[PropUserID])
}
