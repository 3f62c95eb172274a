package ws

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
)

type ListenerID uint64

type Listener func(Event)

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// listenerRegistry: категория -> набор подписчиков. Пустые категории удаляются.
type listenerRegistry struct {
	mu     sync.RWMutex
	nextID ListenerID
	byCat  map[Category]map[ListenerID]Listener
	logger *slog.Logger
}

func newListenerRegistry(logger *slog.Logger) *listenerRegistry {
	return &listenerRegistry{
		byCat:  make(map[Category]map[ListenerID]Listener),
		logger: logger,
	}
}

func (r *listenerRegistry) add(cat Category, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	set, ok := r.byCat[cat]
	if !ok {
		set = make(map[ListenerID]Listener)
		r.byCat[cat] = set
	}

	set[id] = fn

	return id
}

func (r *listenerRegistry) remove(cat Category, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byCat[cat]
	if !ok {
		return false
	}

	if _, ok := set[id]; !ok {
		return false
	}

	delete(set, id)

	if len(set) == 0 {
		delete(r.byCat, cat)
	}

	return true
}

func (r *listenerRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.byCat)
}

func (r *listenerRegistry) count(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byCat[cat])
}

func (r *listenerRegistry) total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.byCat {
		n += len(set)
	}

	return n
}

// snapshot возвращает подписчиков в порядке регистрации.
func (r *listenerRegistry) snapshot(cat Category) []listenerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byCat[cat]
	entries := make([]listenerEntry, 0, len(set))

	for _, id := range slices.Sorted(maps.Keys(set)) {
		entries = append(entries, listenerEntry{id: id, fn: set[id]})
	}

	return entries
}

// emit вызывает всех подписчиков категории события. Паника в одном
// подписчике логируется и не прерывает доставку остальным.
func (r *listenerRegistry) emit(ev Event) {
	for _, entry := range r.snapshot(ev.Category()) {
		r.invoke(entry, ev)
	}
}

func (r *listenerRegistry) invoke(entry listenerEntry, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("error in websocket event listener",
				"category", ev.Category(),
				"listener", entry.id,
				"panic", rec,
			)
		}
	}()

	entry.fn(ev)
}
