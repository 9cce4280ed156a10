package query

import (
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/portal-sync/pkg/domain"
	"github.com/Sternrassler/portal-sync/pkg/logging"
)

// Listener receives the new state of a subscribed descriptor. ok is false
// when the entry was removed.
type Listener func(entry Entry, ok bool)

// InvalidationHook is called, outside the store lock, after a family has been
// invalidated.
type InvalidationHook func(f domain.Family)

// Config holds store settings.
type Config struct {
	// Freshness is the window within which an entry counts as fresh.
	Freshness time.Duration

	// Now replaces time.Now (tests).
	Now func() time.Time

	// OnInvalidate triggers reconcile-by-refetch; see SetInvalidationHook.
	OnInvalidate InvalidationHook

	Logger *zerolog.Logger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{Freshness: 30 * time.Second}
}

// Store is the query cache. It is the only writer of cached query data.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	listeners map[string]map[uint64]Listener
	nextSub   uint64
	onInval   InvalidationHook

	freshness time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

type notification struct {
	fn    Listener
	entry Entry
	ok    bool
}

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultConfig().Freshness
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := logging.NewLogger("query")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Store{
		entries:   make(map[string]*Entry),
		listeners: make(map[string]map[uint64]Listener),
		onInval:   cfg.OnInvalidate,
		freshness: cfg.Freshness,
		now:       cfg.Now,
		logger:    logger,
	}
}

// SetInvalidationHook replaces the hook fired by Invalidate.
func (s *Store) SetInvalidationHook(fn InvalidationHook) {
	s.mu.Lock()
	s.onInval = fn
	s.mu.Unlock()
}

// Read returns a snapshot of the cached entry for desc.
func (s *Store) Read(desc Descriptor) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[desc.String()]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ListDescriptors returns every cached list descriptor of a family.
func (s *Store) ListDescriptors(f domain.Family) []Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Descriptor
	for _, e := range s.entries {
		if e.Descriptor.Family == f && e.Descriptor.Kind == KindList {
			out = append(out, e.Descriptor)
		}
	}
	return out
}

// DetailIDs returns the ids of every cached detail entry of a family.
func (s *Store) DetailIDs(f domain.Family) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, e := range s.entries {
		if e.Descriptor.Family == f && e.Descriptor.Kind == KindDetail {
			out = append(out, e.Descriptor.ID)
		}
	}
	return out
}

// SyncDetails brings already cached detail entries in line with
// authoritative records, typically the items of a freshly fetched list.
// Matching entries take the record, a new fetch time and lose their
// invalidated mark. Records without a cached detail entry are ignored. It
// returns the ids whose detail entry was synced.
func (s *Store) SyncDetails(f domain.Family, records []domain.Record) []string {
	var (
		pending []notification
		synced  []string
	)

	s.mu.Lock()
	now := s.now()
	for _, rec := range records {
		if rec.Family() != f {
			continue
		}
		key := Detail(f, rec.ID()).String()
		e, ok := s.entries[key]
		if !ok {
			continue
		}
		synced = append(synced, rec.ID())

		updated := *e
		updated.FetchedAt = now
		updated.Freshness = s.freshness
		if !e.Invalidated && reflect.DeepEqual(e.Record, rec) {
			s.entries[key] = &updated
			continue
		}
		updated.Record = rec
		updated.Invalidated = false
		s.entries[key] = &updated
		queryWrites.WithLabelValues("sync_detail").Inc()
		pending = s.collect(key, updated, true, pending)
	}
	s.mu.Unlock()

	s.notify(pending)
	return synced
}

// SetList stores an authoritative list result, replacing any previous one.
func (s *Store) SetList(desc Descriptor, result Result) {
	items := make([]domain.Record, len(result.Items))
	copy(items, result.Items)
	result.Items = items

	var pending []notification
	s.mu.Lock()
	pending = s.put(desc, &Entry{Descriptor: desc, List: &result}, "set_list", pending)
	s.mu.Unlock()
	s.notify(pending)
}

// SetDetail stores an authoritative single record.
func (s *Store) SetDetail(record domain.Record) {
	desc := Detail(record.Family(), record.ID())

	var pending []notification
	s.mu.Lock()
	pending = s.put(desc, &Entry{Descriptor: desc, Record: record}, "set_detail", pending)
	s.mu.Unlock()
	s.notify(pending)
}

// UpsertList merges records into one cached list: an existing record with
// the same id is replaced in place, new records are prepended in the order
// given. It reports whether the list changed; an uncached descriptor or an
// identical re-application changes nothing.
func (s *Store) UpsertList(desc Descriptor, records []domain.Record) bool {
	var pending []notification
	s.mu.Lock()
	changed, pending := s.upsertListLocked(desc.String(), records, pending)
	s.mu.Unlock()
	s.notify(pending)
	return changed
}

// RemoveFromList drops records with the given ids from one cached list.
// Ids that are not present are ignored.
func (s *Store) RemoveFromList(desc Descriptor, ids []string) bool {
	var pending []notification
	s.mu.Lock()
	changed, pending := s.removeFromListLocked(desc.String(), ids, pending)
	s.mu.Unlock()
	s.notify(pending)
	return changed
}

// UpsertDetail writes the detail entry of a record unless it already holds
// an identical record.
func (s *Store) UpsertDetail(record domain.Record) bool {
	var pending []notification
	s.mu.Lock()
	changed, pending := s.upsertDetailLocked(record, pending)
	s.mu.Unlock()
	s.notify(pending)
	return changed
}

// RemoveDetail drops the detail entry of one id. Absent ids are a no-op.
func (s *Store) RemoveDetail(f domain.Family, id string) bool {
	var pending []notification
	s.mu.Lock()
	changed, pending := s.removeDetailLocked(f, id, pending)
	s.mu.Unlock()
	s.notify(pending)
	return changed
}

// ApplyUpsert applies upserted records of one family to every cached list of
// that family and to each record's detail entry, in a single critical
// section so list and detail views never disagree.
func (s *Store) ApplyUpsert(f domain.Family, records []domain.Record) bool {
	if len(records) == 0 {
		return false
	}

	var pending []notification
	changed := false

	s.mu.Lock()
	for key, e := range s.entries {
		if e.Descriptor.Family != f || e.Descriptor.Kind != KindList {
			continue
		}
		var c bool
		c, pending = s.upsertListLocked(key, records, pending)
		changed = changed || c
	}
	for _, rec := range records {
		var c bool
		c, pending = s.upsertDetailLocked(rec, pending)
		changed = changed || c
	}
	s.mu.Unlock()

	s.notify(pending)
	return changed
}

// ApplyRemove removes ids of one family from every cached list of that
// family and drops their detail entries.
func (s *Store) ApplyRemove(f domain.Family, ids []string) bool {
	if len(ids) == 0 {
		return false
	}

	var pending []notification
	changed := false

	s.mu.Lock()
	for key, e := range s.entries {
		if e.Descriptor.Family != f || e.Descriptor.Kind != KindList {
			continue
		}
		var c bool
		c, pending = s.removeFromListLocked(key, ids, pending)
		changed = changed || c
	}
	for _, id := range ids {
		var c bool
		c, pending = s.removeDetailLocked(f, id, pending)
		changed = changed || c
	}
	s.mu.Unlock()

	s.notify(pending)
	return changed
}

// Invalidate marks every entry of a family stale and fires the invalidation
// hook so the family is refetched. Entries stay readable until replaced.
func (s *Store) Invalidate(f domain.Family) {
	var pending []notification

	s.mu.Lock()
	for key, e := range s.entries {
		if e.Descriptor.Family != f || e.Invalidated {
			continue
		}
		updated := *e
		updated.Invalidated = true
		s.entries[key] = &updated
		pending = s.collect(key, updated, true, pending)
	}
	hook := s.onInval
	s.mu.Unlock()

	queryInvalidations.WithLabelValues(f.String()).Inc()
	s.logger.Debug().
		Str("family", f.String()).
		Msg("Family invalidated")

	s.notify(pending)
	if hook != nil {
		hook(f)
	}
}

// Subscribe registers fn for changes to desc and returns a function that
// removes the registration.
func (s *Store) Subscribe(desc Descriptor, fn Listener) (unsubscribe func()) {
	key := desc.String()

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[uint64]Listener)
	}
	s.listeners[key][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners[key], id)
			if len(s.listeners[key]) == 0 {
				delete(s.listeners, key)
			}
			s.mu.Unlock()
		})
	}
}

// put stores a fresh entry. Caller holds s.mu.
func (s *Store) put(desc Descriptor, e *Entry, op string, pending []notification) []notification {
	key := desc.String()
	if _, exists := s.entries[key]; !exists {
		queryEntries.Inc()
	}
	e.FetchedAt = s.now()
	e.Freshness = s.freshness
	s.entries[key] = e
	queryWrites.WithLabelValues(op).Inc()
	return s.collect(key, *e, true, pending)
}

func (s *Store) upsertListLocked(key string, records []domain.Record, pending []notification) (bool, []notification) {
	e, ok := s.entries[key]
	if !ok || e.List == nil {
		return false, pending
	}

	items, changed := upsertItems(e.List.Items, records)
	if !changed {
		return false, pending
	}

	updated := *e
	updated.List = e.List.withItems(items)
	s.entries[key] = &updated
	queryWrites.WithLabelValues("upsert_list").Inc()
	return true, s.collect(key, updated, true, pending)
}

func (s *Store) removeFromListLocked(key string, ids []string, pending []notification) (bool, []notification) {
	e, ok := s.entries[key]
	if !ok || e.List == nil {
		return false, pending
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	items := make([]domain.Record, 0, len(e.List.Items))
	for _, rec := range e.List.Items {
		if _, gone := drop[rec.ID()]; !gone {
			items = append(items, rec)
		}
	}
	if len(items) == len(e.List.Items) {
		return false, pending
	}

	updated := *e
	updated.List = e.List.withItems(items)
	s.entries[key] = &updated
	queryWrites.WithLabelValues("remove_from_list").Inc()
	return true, s.collect(key, updated, true, pending)
}

func (s *Store) upsertDetailLocked(record domain.Record, pending []notification) (bool, []notification) {
	desc := Detail(record.Family(), record.ID())
	key := desc.String()

	if e, ok := s.entries[key]; ok {
		if reflect.DeepEqual(e.Record, record) {
			return false, pending
		}
		updated := *e
		updated.Record = record
		s.entries[key] = &updated
		queryWrites.WithLabelValues("upsert_detail").Inc()
		return true, s.collect(key, updated, true, pending)
	}

	return true, s.put(desc, &Entry{Descriptor: desc, Record: record}, "upsert_detail", pending)
}

func (s *Store) removeDetailLocked(f domain.Family, id string, pending []notification) (bool, []notification) {
	desc := Detail(f, id)
	key := desc.String()

	if _, ok := s.entries[key]; !ok {
		return false, pending
	}
	delete(s.entries, key)
	queryEntries.Dec()
	queryWrites.WithLabelValues("remove_detail").Inc()
	return true, s.collect(key, Entry{Descriptor: desc}, false, pending)
}

// collect queues listener calls for key. Caller holds s.mu.
func (s *Store) collect(key string, e Entry, ok bool, pending []notification) []notification {
	for _, fn := range s.listeners[key] {
		pending = append(pending, notification{fn: fn, entry: e, ok: ok})
	}
	return pending
}

func (s *Store) notify(pending []notification) {
	for _, n := range pending {
		n.fn(n.entry, n.ok)
	}
}

// upsertItems returns a new slice with records merged into items, or
// changed=false when every record is already present and identical.
func upsertItems(items, records []domain.Record) ([]domain.Record, bool) {
	index := make(map[string]int, len(items))
	for i, rec := range items {
		index[rec.ID()] = i
	}

	var (
		out     []domain.Record
		fresh   []domain.Record
		seen    = make(map[string]int)
		changed bool
	)
	for _, rec := range records {
		id := rec.ID()
		if i, ok := index[id]; ok {
			if reflect.DeepEqual(items[i], rec) && (out == nil || reflect.DeepEqual(out[i], rec)) {
				continue
			}
			if out == nil {
				out = make([]domain.Record, len(items))
				copy(out, items)
			}
			out[i] = rec
			changed = true
			continue
		}
		// Repeated new ids within one batch collapse to the last payload.
		if j, ok := seen[id]; ok {
			fresh[j] = rec
			continue
		}
		seen[id] = len(fresh)
		fresh = append(fresh, rec)
		changed = true
	}

	if !changed {
		return items, false
	}
	if out == nil {
		out = items
	}
	merged := make([]domain.Record, 0, len(fresh)+len(out))
	merged = append(merged, fresh...)
	merged = append(merged, out...)
	return merged, true
}
