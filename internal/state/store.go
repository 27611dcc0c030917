// Package state owns the in-memory status journal and the set of tickets
// under supervision. All access goes through Store, which hands out copies.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result of a reconciliation pass.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Source records how a ticket entered supervision.
type Source string

const (
	SourceDispatch   Source = "dispatch"
	SourceReconciler Source = "reconciler"
)

// Entry is an immutable journal record of one reconciliation outcome.
type Entry struct {
	ID               string    `json:"id"`
	Time             time.Time `json:"time"`
	Kind             string    `json:"kind"`
	IssueKey         string    `json:"issue_key,omitempty"`
	Repository       string    `json:"repository,omitempty"`
	Status           string    `json:"status"`
	Message          string    `json:"message,omitempty"`
	Branch           string    `json:"branch,omitempty"`
	CommitURL        string    `json:"commit_url,omitempty"`
	PRURL            string    `json:"pr_url,omitempty"`
	TrackingIssueURL string    `json:"tracking_issue_url,omitempty"`
	Duration         string    `json:"duration,omitempty"`
}

// Check is the flattened status of one CI job.
type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
	URL        string `json:"url,omitempty"`
}

// TrackedTicket correlates a work item with its branch, PR and CI state.
type TrackedTicket struct {
	Key             string    `json:"key"`
	Repository      string    `json:"repository"`
	Branch          string    `json:"branch"`
	PRNumber        int       `json:"pr_number"`
	PRURL           string    `json:"pr_url"`
	PRNodeID        string    `json:"-"`
	HeadSHA         string    `json:"head_sha,omitempty"`
	Checks          []Check   `json:"checks,omitempty"`
	ChecksUpdatedAt time.Time `json:"checks_updated_at,omitempty"`
	SubPRURL        string    `json:"sub_pr_url,omitempty"`
	SubPRNumber     int       `json:"sub_pr_number,omitempty"`
	CopilotMerged   bool      `json:"copilot_merged"`
	Merged          bool      `json:"merged"`
	Source          Source    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (t TrackedTicket) clone() TrackedTicket {
	if t.Checks != nil {
		t.Checks = append([]Check(nil), t.Checks...)
	}
	return t
}

// Snapshot is a read-only view for observers.
type Snapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Journal     []Entry         `json:"journal"`
	Tracked     []TrackedTicket `json:"tracked"`
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	journal  []Entry // oldest first
	capacity int
	tracked  map[string]*TrackedTicket
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store keeping at most capacity journal entries.
func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = 200
	}
	s := &Store{
		capacity: capacity,
		tracked:  make(map[string]*TrackedTicket),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records an entry, assigning its ID and time, and returns it.
func (s *Store) Append(e Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = uuid.NewString()
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.journal = append(s.journal, e)
	if over := len(s.journal) - s.capacity; over > 0 {
		s.journal = append([]Entry(nil), s.journal[over:]...)
	}
	journalEntries.WithLabelValues(e.Kind, e.Status).Inc()
	return e
}

// Journal returns entries newest first.
func (s *Store) Journal() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.journalLocked()
}

func (s *Store) journalLocked() []Entry {
	out := make([]Entry, len(s.journal))
	for i, e := range s.journal {
		out[len(s.journal)-1-i] = e
	}
	return out
}

// Track creates or refreshes the ticket for t.Key and reports whether it was
// created. A refresh against the same PR keeps supervision progress; a
// different PR number starts supervision over.
func (s *Store) Track(t TrackedTicket) (TrackedTicket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.tracked[t.Key]
	if !ok {
		t = t.clone()
		if t.Source == "" {
			t.Source = SourceDispatch
		}
		t.CreatedAt, t.UpdatedAt = now, now
		s.tracked[t.Key] = &t
		trackedTickets.Set(float64(len(s.tracked)))
		return t.clone(), true
	}

	if existing.PRNumber != t.PRNumber {
		existing.Checks = nil
		existing.ChecksUpdatedAt = time.Time{}
		existing.SubPRURL, existing.SubPRNumber = "", 0
		existing.CopilotMerged, existing.Merged = false, false
	}
	existing.Repository = t.Repository
	existing.Branch = t.Branch
	existing.PRNumber = t.PRNumber
	existing.PRURL = t.PRURL
	if t.PRNodeID != "" {
		existing.PRNodeID = t.PRNodeID
	}
	if t.HeadSHA != "" {
		existing.HeadSHA = t.HeadSHA
	}
	existing.UpdatedAt = now
	return existing.clone(), false
}

// TrackIfAbsent inserts t only when no ticket with its key exists.
func (s *Store) TrackIfAbsent(t TrackedTicket) (TrackedTicket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tracked[t.Key]; ok {
		return existing.clone(), false
	}
	now := s.now()
	t = t.clone()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tracked[t.Key] = &t
	trackedTickets.Set(float64(len(s.tracked)))
	return t.clone(), true
}

// Get returns a copy of the ticket for key.
func (s *Store) Get(key string) (TrackedTicket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracked[key]
	if !ok {
		return TrackedTicket{}, false
	}
	return t.clone(), true
}

// Update applies fn to the ticket under the lock. It returns false when the
// ticket is gone, e.g. removed by a concurrent merge pass.
func (s *Store) Update(key string, fn func(*TrackedTicket)) (TrackedTicket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[key]
	if !ok {
		return TrackedTicket{}, false
	}
	fn(t)
	t.Key = key
	t.UpdatedAt = s.now()
	return t.clone(), true
}

// ClaimMerge marks the ticket merged and reports whether this call did so.
// Exactly one caller wins, so the merge notification fires once.
func (s *Store) ClaimMerge(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[key]
	if !ok || t.Merged {
		return false
	}
	t.Merged = true
	t.UpdatedAt = s.now()
	return true
}

// Remove drops the ticket and reports whether it existed.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracked[key]; !ok {
		return false
	}
	delete(s.tracked, key)
	trackedTickets.Set(float64(len(s.tracked)))
	return true
}

// Tracked returns copies of all tickets ordered by key.
// Callers may mutate the store while iterating the result.
func (s *Store) Tracked() []TrackedTicket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackedLocked()
}

func (s *Store) trackedLocked() []TrackedTicket {
	out := make([]TrackedTicket, 0, len(s.tracked))
	for _, t := range s.tracked {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Snapshot returns the journal and tracked set taken under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		GeneratedAt: s.now(),
		Journal:     s.journalLocked(),
		Tracked:     s.trackedLocked(),
	}
}
