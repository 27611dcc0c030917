package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestStore_JournalNewestFirstAndBounded(t *testing.T) {
	s := NewStore(3, WithClock(fixedClock()))
	for i := 1; i <= 5; i++ {
		e := s.Append(Entry{Kind: "pass", IssueKey: fmt.Sprintf("KAN-%d", i), Status: StatusSuccess})
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Time.IsZero())
	}

	journal := s.Journal()
	require.Len(t, journal, 3)
	assert.Equal(t, "KAN-5", journal[0].IssueKey)
	assert.Equal(t, "KAN-4", journal[1].IssueKey)
	assert.Equal(t, "KAN-3", journal[2].IssueKey)
}

func TestStore_TrackCreatesOnce(t *testing.T) {
	s := NewStore(10, WithClock(fixedClock()))

	first, created := s.Track(TrackedTicket{Key: "KAN-7", Repository: "acme/widgets", Branch: "feature/copilot-widgets", PRNumber: 12})
	require.True(t, created)
	assert.Equal(t, SourceDispatch, first.Source)

	s.Update("KAN-7", func(tt *TrackedTicket) {
		tt.Checks = []Check{{Name: "build-test", Status: "completed", Conclusion: "success"}}
		tt.SubPRNumber = 13
	})

	again, created := s.Track(TrackedTicket{Key: "KAN-7", Repository: "acme/widgets", Branch: "feature/copilot-widgets", PRNumber: 12, HeadSHA: "abc"})
	assert.False(t, created)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
	assert.Equal(t, "abc", again.HeadSHA)
	assert.Len(t, again.Checks, 1, "same PR keeps supervision progress")
	assert.Equal(t, 13, again.SubPRNumber)
	assert.Len(t, s.Tracked(), 1)
}

func TestStore_TrackNewPRResetsSupervision(t *testing.T) {
	s := NewStore(10)
	s.Track(TrackedTicket{Key: "KAN-7", PRNumber: 12})
	s.Update("KAN-7", func(tt *TrackedTicket) {
		tt.CopilotMerged = true
		tt.SubPRURL = "https://github.com/acme/widgets/pull/13"
	})

	got, created := s.Track(TrackedTicket{Key: "KAN-7", PRNumber: 20})
	assert.False(t, created)
	assert.False(t, got.CopilotMerged)
	assert.Empty(t, got.SubPRURL)
}

func TestStore_TrackIfAbsent(t *testing.T) {
	s := NewStore(10)
	s.Track(TrackedTicket{Key: "KAN-1", PRNumber: 1})

	_, created := s.TrackIfAbsent(TrackedTicket{Key: "KAN-1", PRNumber: 99, Source: SourceReconciler})
	assert.False(t, created)
	got, _ := s.Get("KAN-1")
	assert.Equal(t, 1, got.PRNumber)

	got, created = s.TrackIfAbsent(TrackedTicket{Key: "KAN-2", PRNumber: 2, Source: SourceReconciler})
	assert.True(t, created)
	assert.Equal(t, SourceReconciler, got.Source)
}

func TestStore_CopiesAreIsolated(t *testing.T) {
	s := NewStore(10)
	s.Track(TrackedTicket{Key: "KAN-1", Checks: []Check{{Name: "a"}}})

	got, ok := s.Get("KAN-1")
	require.True(t, ok)
	got.Checks[0].Name = "mutated"

	again, _ := s.Get("KAN-1")
	assert.Equal(t, "a", again.Checks[0].Name)
}

func TestStore_UpdateAndRemove(t *testing.T) {
	s := NewStore(10)
	_, ok := s.Update("KAN-1", func(*TrackedTicket) {})
	assert.False(t, ok)

	s.Track(TrackedTicket{Key: "KAN-1"})
	got, ok := s.Update("KAN-1", func(tt *TrackedTicket) { tt.Key = "ignored"; tt.HeadSHA = "def" })
	require.True(t, ok)
	assert.Equal(t, "KAN-1", got.Key)
	assert.Equal(t, "def", got.HeadSHA)

	assert.True(t, s.Remove("KAN-1"))
	assert.False(t, s.Remove("KAN-1"))
	_, ok = s.Get("KAN-1")
	assert.False(t, ok)
}

func TestStore_ClaimMergeOnce(t *testing.T) {
	s := NewStore(10)
	s.Track(TrackedTicket{Key: "KAN-1"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ClaimMerge("KAN-1") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.False(t, s.ClaimMerge("KAN-404"))
}

func TestStore_RemoveWhileIterating(t *testing.T) {
	s := NewStore(10)
	for _, key := range []string{"KAN-3", "KAN-1", "KAN-2"} {
		s.Track(TrackedTicket{Key: key})
	}

	tracked := s.Tracked()
	require.Len(t, tracked, 3)
	assert.Equal(t, "KAN-1", tracked[0].Key)
	for _, tt := range tracked {
		s.Remove(tt.Key)
	}
	assert.Empty(t, s.Tracked())
}

func TestStore_Snapshot(t *testing.T) {
	s := NewStore(10)
	s.Append(Entry{Kind: "pass", Status: StatusError, Message: "boom"})
	s.Track(TrackedTicket{Key: "KAN-1"})

	snap := s.Snapshot()
	require.Len(t, snap.Journal, 1)
	require.Len(t, snap.Tracked, 1)
	assert.Equal(t, "boom", snap.Journal[0].Message)
	assert.False(t, snap.GeneratedAt.IsZero())
}
