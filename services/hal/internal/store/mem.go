package store

import "sync"

// Mem is an in-memory KV. FailWrites makes subsequent Put calls fail.
type Mem struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
	fail error
}

func NewMem() *Mem { return &Mem{data: map[string]map[string][]byte{}} }

func (m *Mem) FailWrites(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *Mem) Get(ns, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[ns][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Mem) Put(ns, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.data[ns] == nil {
		m.data[ns] = map[string][]byte{}
	}
	m.data[ns][key] = append([]byte(nil), val...)
	return nil
}

func (m *Mem) Delete(ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[ns][key]; !ok {
		return ErrNotFound
	}
	delete(m.data[ns], key)
	return nil
}

// Keys lists the keys of ns.
func (m *Mem) Keys(ns string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data[ns]))
	for k := range m.data[ns] {
		out = append(out, k)
	}
	return out
}
