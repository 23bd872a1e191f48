package sequence

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"

	"timeanchor/internal/eventbus"
	"timeanchor/internal/storage"
	logx "timeanchor/pkg/logx"
)

// Library is the in-memory sequence collection with write-through persistence.
//
// Order of Get() results is insertion order. Every mutation that changes the
// collection emits sequences-updated and saves the whole collection; a save
// failure is returned to the caller while the in-memory state is kept.
type Library struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Sequence

	store storage.Store // nil: memory only
	bus   eventbus.Bus
	log   logx.Logger
}

func NewLibrary(store storage.Store, bus eventbus.Bus, log logx.Logger) *Library {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Library{byID: map[string]Sequence{}, store: store, bus: bus, log: log}
}

// Load replaces the in-memory collection with the persisted one. Missing data
// yields an empty library. Malformed data also yields an empty library and a
// PersistError the caller may log and ignore.
func (l *Library) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = nil
	l.byID = map[string]Sequence{}
	if l.store == nil {
		return nil
	}

	b, ok, err := l.store.Get(ctx, StorageKey)
	if err != nil {
		return persistErr(ErrRead, err)
	}
	if !ok || len(b) == 0 {
		return nil
	}
	var list []Sequence
	if err := json.Unmarshal(b, &list); err != nil {
		return persistErr(ErrDecode, err)
	}
	for _, s := range list {
		if s.ID == "" {
			continue
		}
		if _, dup := l.byID[s.ID]; !dup {
			l.order = append(l.order, s.ID)
		}
		l.byID[s.ID] = s
	}
	l.log.Debug("sequences loaded", logx.Int("count", len(l.order)))
	return nil
}

// Upsert merges each entry over any existing entry with the same id.
// It returns the ids that actually changed.
func (l *Library) Upsert(ctx context.Context, list []Sequence) ([]string, error) {
	for _, s := range list {
		if s.ID == "" {
			return nil, ErrInvalidSequence
		}
	}

	l.mu.Lock()
	var changed []string
	for _, in := range list {
		cur, exists := l.byID[in.ID]
		next := in.clone()
		if exists {
			next = cur.merge(in)
		} else {
			if next.Steps == nil {
				next.Steps = []Step{}
			}
			l.order = append(l.order, in.ID)
		}
		if exists && reflect.DeepEqual(cur, next) {
			continue
		}
		l.byID[in.ID] = next
		changed = appendUnique(changed, in.ID)
	}
	var snap []Sequence
	if len(changed) > 0 {
		snap = l.snapshotLocked(nil)
	}
	l.mu.Unlock()

	if len(changed) == 0 {
		return nil, nil
	}
	err := l.save(ctx, snap)
	l.emit(changed)
	return changed, err
}

// Get returns all sequences, or only those whose id is listed, as a snapshot.
func (l *Library) Get(ids ...string) []Sequence {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked(ids)
}

// Delete removes the listed ids and returns those that existed.
func (l *Library) Delete(ctx context.Context, ids []string) ([]string, error) {
	l.mu.Lock()
	var removed []string
	for _, id := range ids {
		if _, ok := l.byID[id]; !ok {
			continue
		}
		delete(l.byID, id)
		removed = append(removed, id)
	}
	var snap []Sequence
	if len(removed) > 0 {
		n := 0
		for _, id := range l.order {
			if _, ok := l.byID[id]; ok {
				l.order[n] = id
				n++
			}
		}
		l.order = l.order[:n]
		snap = l.snapshotLocked(nil)
	}
	l.mu.Unlock()

	if len(removed) == 0 {
		return nil, nil
	}
	err := l.save(ctx, snap)
	l.emit(removed)
	return removed, err
}

func (l *Library) snapshotLocked(ids []string) []Sequence {
	out := make([]Sequence, 0, len(l.order))
	if len(ids) == 0 {
		for _, id := range l.order {
			out = append(out, l.byID[id].clone())
		}
		return out
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, id := range l.order {
		if want[id] {
			out = append(out, l.byID[id].clone())
		}
	}
	return out
}

func (l *Library) save(ctx context.Context, list []Sequence) error {
	if l.store == nil {
		return nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		err = persistErr(ErrEncode, err)
	} else if werr := l.store.Put(ctx, StorageKey, b); werr != nil {
		err = persistErr(ErrWrite, werr)
	}
	if err != nil {
		l.log.Warn("sequence library save failed", logx.Err(err))
	}
	return err
}

func (l *Library) emit(ids []string) {
	if l.bus == nil {
		return
	}
	l.bus.Emit(eventbus.SequencesUpdated{IDs: append([]string(nil), ids...)})
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}
