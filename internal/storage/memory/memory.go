// Package memory provides an in-process snapshot store and roster provider,
// optionally seeded from a YAML file.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage"
)

// User is a registered artist.
type User struct {
	ID          int64  `yaml:"id"`
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
}

// Artwork is a shared canvas and its latest snapshot.
type Artwork struct {
	ID          int64     `yaml:"id"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Status      string    `yaml:"status"`
	CanvasData  string    `yaml:"canvas_data"`
	UpdatedAt   time.Time `yaml:"-"`
	snapshot    json.RawMessage
}

// Collaborator links a user to an artwork.
type Collaborator struct {
	ArtworkID              int64 `yaml:"artwork_id"`
	UserID                 int64 `yaml:"user_id"`
	ContributionPercentage int   `yaml:"contribution_percentage"`
	IsOwner                bool  `yaml:"is_owner"`
}

// Seed is the YAML document accepted by LoadSeed.
type Seed struct {
	Users         []User         `yaml:"users"`
	Artworks      []Artwork      `yaml:"artworks"`
	Collaborators []Collaborator `yaml:"collaborators"`
}

// Store keeps artworks, users, and collaborators in memory.
// All methods are safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	users         map[int64]User
	artworks      map[int64]*Artwork
	collaborators []Collaborator
	nextArtworkID int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:         make(map[int64]User),
		artworks:      make(map[int64]*Artwork),
		nextArtworkID: 1,
	}
}

// LoadSeed reads a YAML seed file into a new Store.
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns a populated Store or a non-nil error.
func LoadSeed(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	s := New()
	if err := s.Apply(seed); err != nil {
		return nil, fmt.Errorf("applying seed file %s: %w", path, err)
	}
	return s, nil
}

// Apply adds the seed's records to the store.
//
// Postcondition: Returns an error, leaving the store unchanged, if any
// collaborator references an unknown user or artwork.
func (s *Store) Apply(seed Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[int64]bool, len(seed.Users))
	for _, u := range seed.Users {
		users[u.ID] = true
	}
	artworks := make(map[int64]bool, len(seed.Artworks))
	for _, a := range seed.Artworks {
		if a.ID <= 0 {
			return fmt.Errorf("artwork %q: id must be > 0", a.Title)
		}
		artworks[a.ID] = true
	}
	for _, c := range seed.Collaborators {
		if _, ok := s.users[c.UserID]; !ok && !users[c.UserID] {
			return fmt.Errorf("collaborator references unknown user %d", c.UserID)
		}
		if _, ok := s.artworks[c.ArtworkID]; !ok && !artworks[c.ArtworkID] {
			return fmt.Errorf("collaborator references unknown artwork %d", c.ArtworkID)
		}
	}

	for _, u := range seed.Users {
		s.users[u.ID] = u
	}
	for _, a := range seed.Artworks {
		a := a
		if a.CanvasData != "" {
			a.snapshot, _ = json.Marshal(a.CanvasData)
		}
		if a.Status == "" {
			a.Status = "draft"
		}
		a.UpdatedAt = time.Now()
		s.artworks[a.ID] = &a
		if a.ID >= s.nextArtworkID {
			s.nextArtworkID = a.ID + 1
		}
	}
	s.collaborators = append(s.collaborators, seed.Collaborators...)
	return nil
}

// CreateArtwork adds an artwork with no snapshot and returns its id.
func (s *Store) CreateArtwork(title string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextArtworkID
	s.nextArtworkID++
	s.artworks[id] = &Artwork{ID: id, Title: title, Status: "draft", UpdatedAt: time.Now()}
	return id
}

// Get returns the latest snapshot of an artwork.
//
// Postcondition: ok is false when the artwork is unknown or has no snapshot.
func (s *Store) Get(_ context.Context, roomID int64) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artworks[roomID]
	if !ok || a.snapshot == nil {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), a.snapshot...), true, nil
}

// Put replaces the snapshot of an existing artwork.
//
// Postcondition: Returns storage.ErrArtworkNotFound for an unknown artwork.
func (s *Store) Put(ctx context.Context, roomID int64, snapshot json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artworks[roomID]
	if !ok {
		return fmt.Errorf("artwork %d: %w", roomID, storage.ErrArtworkNotFound)
	}
	a.snapshot = append(json.RawMessage(nil), snapshot...)
	a.UpdatedAt = time.Now()
	return nil
}

// ListMembers returns an artwork's collaborators, owners first.
func (s *Store) ListMembers(_ context.Context, roomID int64) ([]protocol.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []protocol.Participant
	for _, c := range s.collaborators {
		if c.ArtworkID != roomID {
			continue
		}
		u := s.users[c.UserID]
		p := protocol.Participant{
			ID:                     u.ID,
			DisplayName:            u.DisplayName,
			Role:                   protocol.RoleCollaborator,
			ContributionPercentage: c.ContributionPercentage,
		}
		if p.DisplayName == "" {
			p.DisplayName = u.Username
		}
		if c.IsOwner {
			p.Role = protocol.RoleOwner
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Role == protocol.RoleOwner && out[j].Role != protocol.RoleOwner
	})
	return out, nil
}

// Ping always succeeds; it lets the in-memory store stand in for a database health probe.
func (s *Store) Ping(context.Context) error { return nil }
