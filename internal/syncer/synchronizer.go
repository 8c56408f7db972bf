package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
)

// Message payload fields used to derive ownership.
const (
	fieldSenderID   = "senderId"
	fieldRecipients = "recipients"
	fieldTimeSent   = "timeSent"
	fieldSkills     = "skills"

	fieldGroupID    = "groupId"
	fieldAppID      = "appId"
	fieldCollection = "messageCollection"
)

// Directory answers social-graph lookups for the source-of-record.
type Directory interface {
	Friends(ctx context.Context, userID string) ([]string, error)
	Skills(ctx context.Context, userID string) ([]string, error)
	Profile(ctx context.Context, userID string) (doc.Document, error)
}

// Config selects what the synchronizer handles and where documents live.
type Config struct {
	Index string
	// Types maps each entity kind to its document type.
	Types map[doc.Kind]string

	Profiles   bool
	Activities bool
	Messages   bool
	Skills     bool
	// FriendACL adds a whitelist of the owner's friends to activities.
	FriendACL bool
}

// Synchronizer applies lifecycle events to the index.
//
// Thread-safety: Apply may be called concurrently for different documents.
// Callers must serialize events for the same document; Dispatcher does.
type Synchronizer struct {
	cfg    Config
	conn   index.Connector
	dir    Directory
	logger *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a synchronizer. dir may be nil when neither skills nor the
// friend whitelist are enabled.
func New(cfg Config, conn index.Connector, dir Directory, opts ...Option) (*Synchronizer, error) {
	if conn == nil {
		return nil, errors.New("syncer: connector is required")
	}
	if cfg.Index == "" {
		return nil, errors.New("syncer: index name is required")
	}
	for _, k := range doc.Kinds {
		if cfg.Types[k] == "" {
			return nil, fmt.Errorf("syncer: no document type for %s", k)
		}
	}
	if dir == nil && (cfg.Skills || cfg.FriendACL || cfg.Profiles) {
		return nil, errors.New("syncer: directory is required for profiles, skills and friend whitelists")
	}
	s := &Synchronizer{cfg: cfg, conn: conn, dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enabled reports whether events of type t are handled.
func (s *Synchronizer) Enabled(t Type) bool {
	switch t {
	case SkillAdded, SkillRemoved:
		return s.cfg.Skills
	}
	switch t.Kind() {
	case doc.KindProfile:
		return s.cfg.Profiles
	case doc.KindActivity:
		return s.cfg.Activities
	case doc.KindMessage:
		return s.cfg.Messages
	}
	return false
}

// Apply handles one event. Events for disabled kinds are dropped.
func (s *Synchronizer) Apply(ctx context.Context, ev Event) error {
	if _, err := ParseType(string(ev.Type)); err != nil {
		return err
	}
	if !s.Enabled(ev.Type) {
		s.logger.Debug("event dropped, kind disabled", "type", string(ev.Type))
		return nil
	}
	if ev.Type != SkillAdded && ev.Type != SkillRemoved && ev.ID() == "" {
		return fmt.Errorf("%s event: payload has no id", ev.Type)
	}

	var err error
	switch ev.Type {
	case ProfileCreated:
		err = s.profileChanged(ctx, ev, false)
	case ProfileUpdated:
		err = s.profileChanged(ctx, ev, true)
	case ActivityCreated:
		err = s.activityChanged(ctx, ev, false)
	case ActivityUpdated:
		err = s.activityChanged(ctx, ev, true)
	case ProfileDeleted, ActivityDeleted:
		err = s.deleteIfPresent(ctx, ev.Type.Kind(), ev.ID())
	case MessageCreated:
		err = s.messageCreated(ctx, ev)
	case MessageUpdated:
		err = s.messageUpdated(ctx, ev)
	case MessageDeleted:
		err = s.messageDeleted(ctx, ev)
	case SkillAdded, SkillRemoved:
		err = s.skillsChanged(ctx, ev)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", ev.Type, ev.ID(), err)
	}
	return nil
}

func (s *Synchronizer) typ(k doc.Kind) string {
	return s.cfg.Types[k]
}

// upsert updates the document when it exists and adds it otherwise, which
// heals the index after a missed create.
func (s *Synchronizer) upsert(ctx context.Context, k doc.Kind, id string, d doc.Document) error {
	exists, err := s.conn.EntryExists(ctx, s.cfg.Index, s.typ(k), id)
	if err != nil {
		return err
	}
	if exists {
		return s.conn.Update(ctx, s.cfg.Index, s.typ(k), id, d)
	}
	return s.conn.Add(ctx, s.cfg.Index, s.typ(k), id, d)
}

func (s *Synchronizer) deleteIfPresent(ctx context.Context, k doc.Kind, id string) error {
	exists, err := s.conn.EntryExists(ctx, s.cfg.Index, s.typ(k), id)
	if err != nil || !exists {
		return err
	}
	return s.conn.Delete(ctx, s.cfg.Index, s.typ(k), id)
}

func (s *Synchronizer) profileDocument(ctx context.Context, person doc.Document) (doc.Document, error) {
	d := person.Clone()
	skills, err := s.dir.Skills(ctx, d.ID())
	if err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	d[fieldSkills] = skills
	return d, nil
}

func (s *Synchronizer) profileChanged(ctx context.Context, ev Event, update bool) error {
	d, err := s.profileDocument(ctx, ev.Payload)
	if err != nil {
		return err
	}
	if !update {
		return s.conn.Add(ctx, s.cfg.Index, s.typ(doc.KindProfile), d.ID(), d)
	}
	return s.upsert(ctx, doc.KindProfile, d.ID(), d)
}

func (s *Synchronizer) skillsChanged(ctx context.Context, ev Event) error {
	userID := ev.skillUser()
	if userID == "" {
		return errors.New("no user id")
	}
	person, err := s.dir.Profile(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	d, err := s.profileDocument(ctx, person)
	if err != nil {
		return err
	}
	return s.upsert(ctx, doc.KindProfile, d.ID(), d)
}

// withProperties copies the routing metadata into a clone of the payload.
func withProperties(ev Event, fields map[string]string) doc.Document {
	d := ev.Payload.Clone()
	for field, prop := range fields {
		if v, ok := ev.Properties[prop]; ok && v != "" {
			d[field] = v
		}
	}
	return d
}

func (s *Synchronizer) activityChanged(ctx context.Context, ev Event, update bool) error {
	d := withProperties(ev, map[string]string{fieldGroupID: PropGroupID, fieldAppID: PropAppID})
	owner := ev.UserID()
	if owner != "" {
		d.SetOrigin([]string{owner})
		if s.cfg.FriendACL {
			s.addWhitelist(ctx, owner, d)
		}
	}
	if !update {
		return s.conn.Add(ctx, s.cfg.Index, s.typ(doc.KindActivity), ev.ID(), d)
	}
	return s.upsert(ctx, doc.KindActivity, ev.ID(), d)
}

// addWhitelist sets the whitelist to the owner and their friends. A failed
// lookup leaves the document without a whitelist.
func (s *Synchronizer) addWhitelist(ctx context.Context, owner string, d doc.Document) {
	friends, err := s.dir.Friends(ctx, owner)
	if err != nil {
		s.logger.Warn("could not load friend whitelist", "user_id", owner, "error", err)
		return
	}
	d[doc.FieldWhitelist] = doc.UnionUserIDs(friends, []string{owner})
}

// messageOrigin derives the owners of a message: its recipients once it has
// been sent, its sender, and the acting user.
func messageOrigin(ev Event) []string {
	var owners []string
	if v, ok := ev.Payload[fieldTimeSent]; ok && v != nil {
		owners = append(owners, recipients(ev.Payload[fieldRecipients])...)
	}
	if sender, ok := ev.Payload[fieldSenderID].(string); ok {
		owners = append(owners, sender)
	}
	if u := ev.UserID(); u != "" {
		owners = append(owners, u)
	}
	return owners
}

func recipients(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func messageDocument(ev Event) doc.Document {
	return withProperties(ev, map[string]string{fieldCollection: PropCollectionID, fieldAppID: PropAppID})
}

func (s *Synchronizer) messageCreated(ctx context.Context, ev Event) error {
	d := messageDocument(ev)
	d.SetOrigin(messageOrigin(ev))
	return s.conn.Add(ctx, s.cfg.Index, s.typ(doc.KindMessage), ev.ID(), d)
}

// messageUpdated keeps the stored owner list; update payloads do not carry
// it.
func (s *Synchronizer) messageUpdated(ctx context.Context, ev Event) error {
	typ := s.typ(doc.KindMessage)
	d := messageDocument(ev)
	old, err := s.conn.Get(ctx, s.cfg.Index, typ, ev.ID())
	if err != nil {
		return err
	}
	if old == nil {
		d.SetOrigin(messageOrigin(ev))
		return s.conn.Add(ctx, s.cfg.Index, typ, ev.ID(), d)
	}
	origin := old.Origin()
	if origin == nil {
		origin = []string{}
	}
	d[doc.FieldOrigin] = origin
	return s.conn.Update(ctx, s.cfg.Index, typ, ev.ID(), d)
}

// messageDeleted removes the acting user from the owner list and deletes
// the document once nobody owns it.
func (s *Synchronizer) messageDeleted(ctx context.Context, ev Event) error {
	typ := s.typ(doc.KindMessage)
	old, err := s.conn.Get(ctx, s.cfg.Index, typ, ev.ID())
	if err != nil || old == nil {
		return err
	}
	user := ev.UserID()
	remaining := slices.DeleteFunc(old.Origin(), func(o string) bool {
		return doc.NormalizeUserID(o) == user
	})
	if len(remaining) == 0 {
		return s.conn.Delete(ctx, s.cfg.Index, typ, ev.ID())
	}
	old.SetOrigin(remaining)
	return s.conn.Update(ctx, s.cfg.Index, typ, ev.ID(), old)
}
