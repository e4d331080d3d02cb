package token

import (
	"sync"
)

// Op names the kind of mutation a Change describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one mutation of the token collection. For deletes only ID
// is meaningful; Token may carry the last known state.
type Change struct {
	Op    Op     `json:"op"`
	ID    string `json:"id"`
	Token Token  `json:"token"`
	// Origin names the writer that produced the change, when known.
	Origin string `json:"origin,omitempty"`
}

// Event is delivered to Store observers after every mutation.
type Event struct {
	Change Change
	// OrderBefore is the initiative order as it was immediately before a
	// removal, including the removed token. It is nil for upserts.
	OrderBefore []Token
}

// Observer receives Store events. Observers run synchronously on the
// goroutine that mutated the Store and must not mutate it re-entrantly in a
// way that assumes the triggering change is still pending.
type Observer func(Event)

type entry struct {
	tok Token
	// seq orders tokens by first insertion and breaks initiative ties.
	seq uint64
}

// Store is the local authoritative collection of tokens, keyed by id.
// All methods are safe for concurrent use; observers are invoked without the
// lock held.
type Store struct {
	mu        sync.RWMutex
	tokens    map[string]*entry
	nextSeq   uint64
	observers []Observer
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]*entry)}
}

// Subscribe registers fn to be called after every mutation.
//
// Precondition: fn must be non-nil.
func (s *Store) Subscribe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Upsert inserts t if its id is unknown or replaces the stored token with the
// same id. The stored value is normalized and copied; later changes to t do
// not affect the Store. A replaced token keeps its insertion sequence.
//
// Precondition: t.ID must be non-empty.
// Postcondition: Returns the applied Change, or ErrNoID.
func (s *Store) Upsert(t Token) (Change, error) {
	if t.ID == "" {
		return Change{}, ErrNoID
	}
	t = t.Normalize()

	s.mu.Lock()
	op := OpUpdate
	if e, ok := s.tokens[t.ID]; ok {
		e.tok = t
	} else {
		op = OpInsert
		s.nextSeq++
		s.tokens[t.ID] = &entry{tok: t, seq: s.nextSeq}
	}
	observers := s.observers
	s.mu.Unlock()

	ch := Change{Op: op, ID: t.ID, Token: t.Clone()}
	notify(observers, Event{Change: ch})
	return ch, nil
}

// Remove deletes the token with the given id.
//
// Postcondition: Returns the removed token and true, or false if id was unknown.
func (s *Store) Remove(id string) (Token, bool) {
	s.mu.Lock()
	e, ok := s.tokens[id]
	if !ok {
		s.mu.Unlock()
		return Token{}, false
	}
	before := s.initiativeOrderLocked()
	delete(s.tokens, id)
	observers := s.observers
	s.mu.Unlock()

	removed := e.tok.Clone()
	notify(observers, Event{
		Change:      Change{Op: OpDelete, ID: id, Token: removed},
		OrderBefore: before,
	})
	return removed, true
}

// ApplyRemote reconciles a change received from the change feed. Changes are
// applied in arrival order: the last write received for an id wins.
//
// Postcondition: Returns true if the Store was mutated.
func (s *Store) ApplyRemote(ch Change) bool {
	switch ch.Op {
	case OpInsert, OpUpdate:
		if ch.Token.ID == "" {
			ch.Token.ID = ch.ID
		}
		_, err := s.Upsert(ch.Token)
		return err == nil
	case OpDelete:
		_, ok := s.Remove(ch.ID)
		return ok
	}
	return false
}

// Load seeds the Store with tokens in the given order, replacing nothing
// that is already present with the same id. Tokens without ids are skipped.
//
// Postcondition: Returns the number of tokens stored.
func (s *Store) Load(tokens []Token) int {
	n := 0
	for _, t := range tokens {
		if s.insert(t) {
			n++
		}
	}
	return n
}

// insert stores t only if its id is new.
func (s *Store) insert(t Token) bool {
	if t.ID == "" {
		return false
	}
	t = t.Normalize()

	s.mu.Lock()
	if _, ok := s.tokens[t.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.nextSeq++
	s.tokens[t.ID] = &entry{tok: t, seq: s.nextSeq}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, Event{Change: Change{Op: OpInsert, ID: t.ID, Token: t.Clone()}})
	return true
}

// FindByID returns the token with the given id.
//
// Postcondition: Returns (token, true) or (zero, false); never panics.
func (s *Store) FindByID(id string) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tokens[id]
	if !ok {
		return Token{}, false
	}
	return e.tok.Clone(), true
}

// FindByCharacterLink returns the earliest inserted token linked to
// characterID.
//
// Postcondition: Returns (token, true) or (zero, false); an empty
// characterID never matches.
func (s *Store) FindByCharacterLink(characterID string) (Token, bool) {
	if characterID == "" {
		return Token{}, false
	}
	for _, t := range s.All() {
		if t.CharacterID == characterID {
			return t, true
		}
	}
	return Token{}, false
}

// Len returns the number of stored tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// All returns copies of every token in insertion order.
func (s *Store) All() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tokensOf(s.entriesLocked())
}

// InitiativeOrder returns copies of every token sorted by initiative,
// highest first. Equal initiatives keep insertion order.
func (s *Store) InitiativeOrder() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initiativeOrderLocked()
}

func (s *Store) initiativeOrderLocked() []Token {
	entries := s.entriesLocked()
	sortByInitiativeDesc(entries)
	return tokensOf(entries)
}

func (s *Store) entriesLocked() []*entry {
	entries := make([]*entry, 0, len(s.tokens))
	for _, e := range s.tokens {
		entries = append(entries, e)
	}
	// Map iteration is random; restore insertion order before any sort.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].seq < entries[j-1].seq; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	return entries
}

// sortByInitiativeDesc sorts entries in place, highest initiative first.
// Insertion sort is stable, so ties keep their incoming order.
func sortByInitiativeDesc(entries []*entry) {
	n := len(entries)
	for i := 1; i < n; i++ {
		for j := i; j > 0 && entries[j].tok.Initiative > entries[j-1].tok.Initiative; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func tokensOf(entries []*entry) []Token {
	out := make([]Token, len(entries))
	for i, e := range entries {
		out[i] = e.tok.Clone()
	}
	return out
}

func notify(observers []Observer, ev Event) {
	for _, fn := range observers {
		fn(ev)
	}
}
