package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/wiki-character-crawler/internal/crawler"
)

// CharacterStore keeps characters keyed by name. A second Upsert for the
// same name replaces every column, matching the Postgres store.
type CharacterStore struct {
	mu         sync.RWMutex
	characters map[string]crawler.Character
	upserts    int
}

// NewCharacterStore constructs an empty store.
func NewCharacterStore() *CharacterStore {
	return &CharacterStore{
		characters: make(map[string]crawler.Character),
	}
}

// Upsert inserts or overwrites character.
func (s *CharacterStore) Upsert(ctx context.Context, character crawler.Character) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if character.Name == "" {
		return errors.New("character name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.characters[character.Name] = cloneCharacter(character)
	s.upserts++
	return nil
}

// Get returns the stored character for name.
func (s *CharacterStore) Get(name string) (crawler.Character, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.characters[name]
	if !ok {
		return crawler.Character{}, false
	}
	return cloneCharacter(c), true
}

// List returns every stored character sorted by name.
func (s *CharacterStore) List() []crawler.Character {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Character, 0, len(s.characters))
	for _, c := range s.characters {
		out = append(out, cloneCharacter(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of distinct characters.
func (s *CharacterStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.characters)
}

// Upserts returns how many Upsert calls succeeded.
func (s *CharacterStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

func cloneCharacter(c crawler.Character) crawler.Character {
	c.Note = cloneString(c.Note)
	c.Appearance = cloneString(c.Appearance)
	c.Personality = cloneString(c.Personality)
	c.AbilitiesAndPowers = cloneString(c.AbilitiesAndPowers)
	return c
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
