package store

import (
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func ev(id string, kind int, ts nostr.Timestamp, tags ...nostr.Tag) *nostr.Event {
	return &nostr.Event{ID: id, PubKey: "author", Kind: kind, CreatedAt: ts, Tags: tags}
}

func TestAdmit_IdempotentByID(t *testing.T) {
	s := New()
	e := ev("a", 9, 100)

	if !s.Admit(e) {
		t.Fatal("first admission should be new")
	}
	if s.Admit(e) {
		t.Fatal("second admission of the same id should be a no-op")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 event, got %d", s.Len())
	}
	if got := s.ByKind(9); len(got) != 1 {
		t.Fatalf("expected 1 event by kind, got %d", len(got))
	}
}

func TestAdmit_RejectsNilAndEmptyID(t *testing.T) {
	s := New()
	if s.Admit(nil) {
		t.Fatal("nil event must not be admitted")
	}
	if s.Admit(&nostr.Event{Kind: 9}) {
		t.Fatal("event without id must not be admitted")
	}
}

func TestByKindAndTag(t *testing.T) {
	s := New()
	s.Admit(ev("a", 9, 100, nostr.Tag{"t", "general"}))
	s.Admit(ev("b", 9, 101, nostr.Tag{"t", "marketplace"}))
	s.Admit(ev("c", 9, 102))

	got := s.ByKindAndTag(9, "t", "general")
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected result: %v", got)
	}
	if got := s.ByKindAndTag(9, "t", "nope"); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestNotify_OnlyRegisteredKinds(t *testing.T) {
	s := New()
	var seen []string
	s.Notify([]int{9}, func(e *nostr.Event) { seen = append(seen, e.ID) })

	s.Admit(ev("a", 9, 100))
	s.Admit(ev("b", 5, 100))
	s.Admit(ev("a", 9, 100)) // duplicate, must not re-notify

	if len(seen) != 1 || seen[0] != "a" {
		t.Fatalf("unexpected notifications: %v", seen)
	}
}

func TestNotify_ObserverMayReadStore(t *testing.T) {
	s := New()
	var lenInside int
	s.Notify([]int{9}, func(*nostr.Event) { lenInside = s.Len() })
	s.Admit(ev("a", 9, 100))
	if lenInside != 1 {
		t.Fatalf("observer should see the admitted event, saw len=%d", lenInside)
	}
}

func TestAdmit_ConcurrentSameEvent(t *testing.T) {
	s := New()
	e := ev("a", 9, 100)

	var wg sync.WaitGroup
	admitted := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- s.Admit(e)
		}()
	}
	wg.Wait()
	close(admitted)

	news := 0
	for ok := range admitted {
		if ok {
			news++
		}
	}
	if news != 1 {
		t.Fatalf("expected exactly one new admission, got %d", news)
	}
}

func TestNewest_TieBreakByID(t *testing.T) {
	a := ev("aaa", 34550, 100)
	b := ev("bbb", 34550, 100)
	c := ev("ccc", 34550, 99)

	for _, order := range [][]*nostr.Event{{a, b, c}, {c, b, a}, {b, c, a}} {
		if got := Newest(order); got.ID != "aaa" {
			t.Fatalf("expected aaa to win regardless of order, got %s", got.ID)
		}
	}
	if Newest(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}
