package mood_test

import (
	"errors"
	"testing"
	"time"

	"github.com/aurahq/aura/internal/mood"
	"github.com/aurahq/aura/pkg/kvstore"
)

func TestRecordAndListFor_ChronologicalOrder(t *testing.T) {
	j := mood.NewJournal(kvstore.NewMemStore())

	first := mood.Entry{Mood: 2, Notes: "rough morning", CreatedAt: time.Unix(100, 0)}
	second := mood.Entry{Mood: 4, Notes: "better after lunch", CreatedAt: time.Unix(200, 0)}

	if err := j.Record("0xAAA", first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.Record("0xaaa", second); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := j.ListFor("0xAaA")
	if len(got) != 2 {
		t.Fatalf("ListFor: got %d entries, want 2", len(got))
	}
	if got[0].Mood != 2 || got[1].Mood != 4 {
		t.Errorf("order: got [%d %d], want [2 4]", got[0].Mood, got[1].Mood)
	}
}

func TestRecord_RejectsOutOfScaleRating(t *testing.T) {
	j := mood.NewJournal(kvstore.NewMemStore())

	for _, rating := range []int{0, -1, 6} {
		err := j.Record("0xaaa", mood.Entry{Mood: rating, CreatedAt: time.Now()})
		if !errors.Is(err, mood.ErrInvalidMood) {
			t.Errorf("Record(mood=%d): got %v, want ErrInvalidMood", rating, err)
		}
	}
	if got := j.ListFor("0xaaa"); got != nil {
		t.Errorf("rejected entries persisted: %v", got)
	}
}

func TestListFor_EmptyAndCorrupt(t *testing.T) {
	kv := kvstore.NewMemStore()
	j := mood.NewJournal(kv)

	if got := j.ListFor("0xnothing"); got != nil {
		t.Errorf("ListFor unknown address: got %v, want nil", got)
	}

	if err := kv.Set(kvstore.MoodKey("0xbad"), "not json"); err != nil {
		t.Fatal(err)
	}
	if got := j.ListFor("0xbad"); got != nil {
		t.Errorf("ListFor corrupt journal: got %v, want nil", got)
	}
}

func TestTrend_KeepsLastSevenEntries(t *testing.T) {
	j := mood.NewJournal(kvstore.NewMemStore())

	for i := 0; i < 10; i++ {
		entry := mood.Entry{Mood: i%5 + 1, CreatedAt: time.Unix(int64(i*100), 0)}
		if err := j.Record("0xaaa", entry); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	got := j.Trend("0xaaa")
	if len(got) != mood.TrendWindow {
		t.Fatalf("Trend: got %d entries, want %d", len(got), mood.TrendWindow)
	}
	// Entries 3..9 survive; the oldest of those was recorded at t=300.
	if !got[0].CreatedAt.Equal(time.Unix(300, 0)) {
		t.Errorf("oldest trend entry at %v, want %v", got[0].CreatedAt, time.Unix(300, 0))
	}
}
