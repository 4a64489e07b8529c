// Package syncmap provides a generic map of lazily initialized values safe for concurrent use.
package syncmap

import "sync"

type SyncMap[K comparable, V any] struct {
	lock sync.Mutex
	init func(K) *V
	data map[K]*V
}

func New[K comparable, V any](init func(K) *V) *SyncMap[K, V] {
	return &SyncMap[K, V]{init: init, data: make(map[K]*V)}
}

// GetOrInit returns the value for the key, the value is created on the first access.
func (m *SyncMap[K, V]) GetOrInit(key K) *V {
	m.lock.Lock()
	defer m.lock.Unlock()

	if v, ok := m.data[key]; ok {
		return v
	}
	v := m.init(key)
	m.data[key] = v
	return v
}

func (m *SyncMap[K, V]) Delete(key K) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.data, key)
}

func (m *SyncMap[K, V]) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.data)
}
