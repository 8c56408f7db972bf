package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Friendship links two people in both directions.
type Friendship struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// Fixture is a seed data set, usually read from YAML:
//
//	people:
//	  - id: alice
//	    displayName: Alice
//	    skills: [go, sql]
//	friendships:
//	  - {a: alice, b: bob}
//	activities:
//	  - {id: a1, userId: alice, updated: 1700000000000}
//	messages:
//	  - {id: m1, senderId: alice, recipients: [bob], timeSent: 1700000000000}
type Fixture struct {
	People      []Person     `yaml:"people"`
	Friendships []Friendship `yaml:"friendships"`
	Activities  []Activity   `yaml:"activities"`
	Messages    []Message    `yaml:"messages"`
}

// DecodeFixture reads a YAML fixture. Unknown keys are rejected.
func DecodeFixture(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return f, nil
}

// LoadFixture reads a YAML fixture file.
func LoadFixture(path string) (Fixture, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("open fixture: %w", err)
	}
	defer fh.Close()
	return DecodeFixture(fh)
}

// ImportStats counts imported records.
type ImportStats struct {
	People      int `json:"people"`
	Friendships int `json:"friendships"`
	Activities  int `json:"activities"`
	Messages    int `json:"messages"`
}

// Import writes a fixture in one transaction. People are written before
// friendships so either side may be listed first.
func (s *Store) Import(ctx context.Context, f Fixture) (ImportStats, error) {
	var stats ImportStats
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range f.People {
			friends := p.Friends
			p.Friends = nil
			if err := s.putPerson(ctx, tx, p); err != nil {
				return err
			}
			for _, fr := range friends {
				f.Friendships = append(f.Friendships, Friendship{A: p.ID, B: fr})
			}
			stats.People++
		}
		for _, fr := range f.Friendships {
			if err := s.addFriend(ctx, tx, fr.A, fr.B); err != nil {
				return err
			}
			if err := s.addFriend(ctx, tx, fr.B, fr.A); err != nil {
				return err
			}
			stats.Friendships++
		}
		for _, a := range f.Activities {
			if err := s.putActivity(ctx, tx, a); err != nil {
				return err
			}
			stats.Activities++
		}
		for _, m := range f.Messages {
			if err := s.putMessage(ctx, tx, m); err != nil {
				return err
			}
			stats.Messages++
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, fmt.Errorf("import fixture: %w", err)
	}
	return stats, nil
}
