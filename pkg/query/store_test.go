package query

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/portal-sync/pkg/domain"
)

func event(id, title string) domain.Record {
	return domain.Event{EventID: id, Title: title}
}

func member(id, name string) domain.Record {
	return domain.Member{UserID: id, Username: name, DisplayName: name}
}

func ids(items []domain.Record) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.ID()
	}
	return out
}

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return now }
	return New(cfg), &now
}

func TestStore_ReadAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok := s.Read(Detail(domain.FamilyMembers, "u9"))
	assert.False(t, ok)
}

func TestStore_Freshness(t *testing.T) {
	s, now := newTestStore(t)
	desc := List(domain.FamilyEvents, nil)
	s.SetList(desc, Result{Items: []domain.Record{event("e2", "B")}})

	e, ok := s.Read(desc)
	require.True(t, ok)
	assert.True(t, e.Fresh(*now))

	assert.True(t, e.Stale(now.Add(31*time.Second)), "expired entries are stale")

	s.Invalidate(domain.FamilyEvents)
	e, ok = s.Read(desc)
	require.True(t, ok, "stale entries stay readable")
	assert.True(t, e.Stale(*now))
}

func TestStore_UpsertList_ReplaceInPlaceAndPrepend(t *testing.T) {
	s, _ := newTestStore(t)
	desc := List(domain.FamilyEvents, nil)
	s.SetList(desc, Result{Items: []domain.Record{event("e2", "B"), event("e3", "C"), event("e4", "D")}})

	before, _ := s.Read(desc)

	changed := s.UpsertList(desc, []domain.Record{event("e3", "C2"), event("e1", "A"), event("e0", "Z")})
	require.True(t, changed)

	after, _ := s.Read(desc)
	assert.Equal(t, []string{"e1", "e0", "e2", "e3", "e4"}, ids(after.List.Items))
	assert.Equal(t, "C2", after.List.Items[3].(domain.Event).Title)

	// the previous snapshot is untouched
	assert.Equal(t, []string{"e2", "e3", "e4"}, ids(before.List.Items))
	assert.Equal(t, "C", before.List.Items[1].(domain.Event).Title)
}

func TestStore_UpsertList_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	desc := List(domain.FamilyEvents, nil)
	s.SetList(desc, Result{Items: []domain.Record{event("e2", "B")}})

	var calls int
	unsubscribe := s.Subscribe(desc, func(Entry, bool) { calls++ })
	defer unsubscribe()

	delta := []domain.Record{event("e1", "Raid")}
	require.True(t, s.UpsertList(desc, delta))
	first, _ := s.Read(desc)

	assert.False(t, s.UpsertList(desc, delta), "second identical upsert must not change anything")
	second, _ := s.Read(desc)

	assert.Equal(t, 1, calls)
	assert.Same(t, first.List, second.List)
	assert.Equal(t, first.List.Items, second.List.Items)
}

func TestStore_UpsertList_UncachedIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	assert.False(t, s.UpsertList(List(domain.FamilyWars, nil), []domain.Record{domain.War{WarID: "w1"}}))
	assert.Equal(t, 0, s.Len())
}

func TestStore_PaginatedMetaPreserved(t *testing.T) {
	s, _ := newTestStore(t)
	desc := List(domain.FamilyAnnouncements, map[string]string{"page": "1"})
	meta := map[string]any{"total": float64(3), "next_cursor": "abc"}
	s.SetList(desc, Result{
		Items:     []domain.Record{domain.Announcement{AnnouncementID: "a1"}},
		Paginated: true,
		Meta:      meta,
	})

	s.UpsertList(desc, []domain.Record{domain.Announcement{AnnouncementID: "a2"}})

	e, _ := s.Read(desc)
	assert.True(t, e.List.Paginated)
	assert.Equal(t, meta, e.List.Meta)
	assert.Equal(t, []string{"a2", "a1"}, ids(e.List.Items))
}

func TestStore_RemoveFromList(t *testing.T) {
	s, _ := newTestStore(t)
	desc := List(domain.FamilyMembers, nil)
	s.SetList(desc, Result{Items: []domain.Record{member("u1", "a"), member("u9", "b")}})

	assert.False(t, s.RemoveFromList(desc, []string{"u404"}), "absent ids are a no-op")
	assert.True(t, s.RemoveFromList(desc, []string{"u9"}))
	assert.False(t, s.RemoveFromList(desc, []string{"u9"}), "deleting twice is a no-op")

	e, _ := s.Read(desc)
	assert.Equal(t, []string{"u1"}, ids(e.List.Items))
}

func TestStore_DetailLifecycle(t *testing.T) {
	s, _ := newTestStore(t)

	assert.True(t, s.UpsertDetail(member("u9", "b")))
	assert.False(t, s.UpsertDetail(member("u9", "b")))

	e, ok := s.Read(Detail(domain.FamilyMembers, "u9"))
	require.True(t, ok)
	assert.Equal(t, "b", e.Record.(domain.Member).Username)

	assert.True(t, s.RemoveDetail(domain.FamilyMembers, "u9"))
	assert.False(t, s.RemoveDetail(domain.FamilyMembers, "u9"))
	_, ok = s.Read(Detail(domain.FamilyMembers, "u9"))
	assert.False(t, ok)
}

func TestStore_ApplyUpsert_ListDetailConvergence(t *testing.T) {
	s, _ := newTestStore(t)
	all := List(domain.FamilyEvents, nil)
	open := List(domain.FamilyEvents, map[string]string{"status": "open"})
	other := List(domain.FamilyWars, nil)

	s.SetList(all, Result{Items: []domain.Record{event("e1", "Old"), event("e2", "B")}})
	s.SetList(open, Result{Items: []domain.Record{event("e3", "C")}})
	s.SetList(other, Result{Items: []domain.Record{domain.War{WarID: "e1"}}})
	s.SetDetail(event("e1", "Old"))

	updated := domain.Event{EventID: "e1", Title: "Raid", Location: "Keep"}
	require.True(t, s.ApplyUpsert(domain.FamilyEvents, []domain.Record{updated}))

	detail, ok := s.Read(Detail(domain.FamilyEvents, "e1"))
	require.True(t, ok)
	assert.Equal(t, updated, detail.Record)

	for _, desc := range []Descriptor{all, open} {
		e, _ := s.Read(desc)
		var found domain.Record
		for _, r := range e.List.Items {
			if r.ID() == "e1" {
				found = r
			}
		}
		assert.Equal(t, updated, found, desc.String())
	}

	w, _ := s.Read(other)
	assert.Equal(t, domain.War{WarID: "e1"}, w.List.Items[0], "other families untouched")
}

func TestStore_ApplyRemove(t *testing.T) {
	s, _ := newTestStore(t)
	all := List(domain.FamilyMembers, nil)
	officers := List(domain.FamilyMembers, map[string]string{"role": "officer"})
	s.SetList(all, Result{Items: []domain.Record{member("u1", "a"), member("u9", "b")}})
	s.SetList(officers, Result{Items: []domain.Record{member("u9", "b")}})
	s.SetDetail(member("u9", "b"))

	assert.True(t, s.ApplyRemove(domain.FamilyMembers, []string{"u9"}))
	assert.False(t, s.ApplyRemove(domain.FamilyMembers, []string{"u9"}))

	e, _ := s.Read(all)
	assert.Equal(t, []string{"u1"}, ids(e.List.Items))
	e, _ = s.Read(officers)
	assert.Empty(t, e.List.Items)
	_, ok := s.Read(Detail(domain.FamilyMembers, "u9"))
	assert.False(t, ok)
}

func TestStore_InvalidateHook(t *testing.T) {
	var mu sync.Mutex
	var got []domain.Family

	s, _ := newTestStore(t)
	s.SetInvalidationHook(func(f domain.Family) {
		// the lock is released before the hook runs
		_ = s.ListDescriptors(f)
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	s.SetList(List(domain.FamilyWars, nil), Result{})
	s.Invalidate(domain.FamilyWars)

	assert.Equal(t, []domain.Family{domain.FamilyWars}, got)
}

func TestStore_SubscribeAndUnsubscribe(t *testing.T) {
	s, _ := newTestStore(t)
	desc := Detail(domain.FamilyMembers, "u9")

	var states []bool
	unsubscribe := s.Subscribe(desc, func(e Entry, ok bool) {
		// listeners may read the store
		_, _ = s.Read(e.Descriptor)
		states = append(states, ok)
	})

	s.UpsertDetail(member("u9", "b"))
	s.RemoveDetail(domain.FamilyMembers, "u9")
	unsubscribe()
	unsubscribe()
	s.UpsertDetail(member("u9", "c"))

	assert.Equal(t, []bool{true, false}, states)
}

func TestStore_ListDescriptors(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetList(List(domain.FamilyEvents, nil), Result{})
	s.SetList(List(domain.FamilyEvents, map[string]string{"status": "open"}), Result{})
	s.SetDetail(event("e1", "A"))
	s.SetList(List(domain.FamilyWars, nil), Result{})

	assert.Len(t, s.ListDescriptors(domain.FamilyEvents), 2)
	assert.Len(t, s.ListDescriptors(domain.FamilyWars), 1)
	assert.Empty(t, s.ListDescriptors(domain.FamilyMembers))
}

func TestStore_SyncDetails(t *testing.T) {
	s, now := newTestStore(t)
	s.SetDetail(event("e2", "B"))
	s.SetDetail(event("e7", "G"))
	s.Invalidate(domain.FamilyEvents)

	var notified []string
	unsub := s.Subscribe(Detail(domain.FamilyEvents, "e2"), func(e Entry, ok bool) {
		notified = append(notified, e.Record.(domain.Event).Title)
	})
	defer unsub()

	*now = now.Add(time.Minute)
	synced := s.SyncDetails(domain.FamilyEvents, []domain.Record{event("e1", "A"), event("e2", "B2")})
	assert.Equal(t, []string{"e2"}, synced)
	assert.Equal(t, []string{"B2"}, notified)

	e, ok := s.Read(Detail(domain.FamilyEvents, "e2"))
	require.True(t, ok)
	assert.Equal(t, "B2", e.Record.(domain.Event).Title)
	assert.False(t, e.Invalidated)
	assert.True(t, e.Fresh(*now))

	_, ok = s.Read(Detail(domain.FamilyEvents, "e1"))
	assert.False(t, ok, "records without a detail entry are not cached as details")

	other, ok := s.Read(Detail(domain.FamilyEvents, "e7"))
	require.True(t, ok)
	assert.True(t, other.Invalidated, "details missing from the records stay stale")

	assert.ElementsMatch(t, []string{"e2", "e7"}, s.DetailIDs(domain.FamilyEvents))
	assert.Empty(t, s.DetailIDs(domain.FamilyMembers))
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s, _ := newTestStore(t)
	desc := List(domain.FamilyEvents, nil)
	s.SetList(desc, Result{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := event(string(rune('a'+i)), "x")
			s.ApplyUpsert(domain.FamilyEvents, []domain.Record{rec})
			s.ApplyUpsert(domain.FamilyEvents, []domain.Record{rec})
		}(i)
	}
	wg.Wait()

	e, _ := s.Read(desc)
	assert.Len(t, e.List.Items, 20)
}

func TestUpsertItems_DuplicateNewIDsInBatch(t *testing.T) {
	items, changed := upsertItems(nil, []domain.Record{event("e1", "A"), event("e1", "B")})
	require.True(t, changed)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].(domain.Event).Title)
}
