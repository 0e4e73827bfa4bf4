package coordinator

import "sync"

// Store holds session records keyed by room name. It is injected into the
// Coordinator so tests (and an eventual persistent variant) can swap it out.
// Implementations must keep at most one record per room.
type Store interface {
	// PutIfAbsent inserts rec and reports true, or reports false when a
	// record for the room already exists.
	PutIfAbsent(rec *Record) bool
	Get(roomName string) (*Record, bool)
	Delete(roomName string)
	Len() int
	// All returns the live records in no particular order.
	All() []*Record
}

// MemoryStore is the in-process Store used in production. Records live only
// for the process lifetime.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) PutIfAbsent(rec *Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.RoomName]; ok {
		return false
	}
	s.records[rec.RoomName] = rec
	return true
}

func (s *MemoryStore) Get(roomName string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[roomName]
	return rec, ok
}

func (s *MemoryStore) Delete(roomName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, roomName)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}
