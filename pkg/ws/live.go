package ws

import "sync"

// live - единственное общее между соединениями состояние: реестр живых
// идентификаторов. Используется только для фильтрации входящих фактов.
var live = &liveRegistry{handles: make(map[string]*Socket)}

type liveRegistry struct {
	mu      sync.RWMutex
	handles map[string]*Socket
}

func (r *liveRegistry) add(s *Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles[s.id] = s
}

func (r *liveRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handles, id)
}

func (r *liveRegistry) lookup(id string) (*Socket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.handles[id]

	return s, ok
}

// Dispatch доставляет факт живому соединению с тем же идентификатором.
// Для транспортов с одним общим каналом событий. Факты для неизвестных
// идентификаторов отбрасываются, возвращается false.
func Dispatch(ev WireEvent) bool {
	s, ok := live.lookup(ev.ID)
	if !ok {
		return false
	}

	s.applyFact(ev, sourceExternal)

	return true
}
