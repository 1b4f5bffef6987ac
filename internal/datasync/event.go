package datasync

// LoadEvent is delivered to subscribers once a holder has been loaded and
// marked synchronized. It runs on a worker goroutine.
type LoadEvent[H Holder[O], O any] struct {
	Manager *Manager[H, O]
	Holder  H
}

type subscriber[H Holder[O], O any] struct {
	id int
	fn func(LoadEvent[H, O])
}

// Subscribe registers fn for load events and returns a function removing it.
func (m *Manager[H, O]) Subscribe(fn func(LoadEvent[H, O])) func() {
	m.subsMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber[H, O]{id: id, fn: fn})
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager[H, O]) emit(h H) {
	m.subsMu.RLock()
	subs := make([]subscriber[H, O], len(m.subs))
	copy(subs, m.subs)
	m.subsMu.RUnlock()

	ev := LoadEvent[H, O]{Manager: m, Holder: h}
	for _, s := range subs {
		s.fn(ev)
	}
}
