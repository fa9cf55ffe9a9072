// Package keylock 提供按字符串键加锁的互斥量，同一包名的维护操作（sync/clean/cache-fill）
// 通过它串行化，不同包之间互不阻塞。
package keylock

import "sync"

// Map 按键维护引用计数的互斥锁，最后一个持有者释放后回收条目。
type Map struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// New 返回空的锁表。
func New() *Map {
	return &Map{locks: make(map[string]*entryLock)}
}

// Lock 阻塞直到获得 key 的锁，返回的函数负责释放，调用方应 defer 调用。
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	lock := m.locks[key]
	if lock == nil {
		lock = &entryLock{}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return m.releaser(key, lock)
}

func (m *Map) releaser(key string, lock *entryLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			m.mu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(m.locks, key)
			}
			m.mu.Unlock()
		})
	}
}

// TryLock 尝试获取 key 的锁，已被占用时立即返回 false。
func (m *Map) TryLock(key string) (func(), bool) {
	m.mu.Lock()
	lock := m.locks[key]
	if lock == nil {
		lock = &entryLock{}
		m.locks[key] = lock
	}
	if !lock.mu.TryLock() {
		if lock.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	lock.refs++
	m.mu.Unlock()

	return m.releaser(key, lock), true
}

// Len 返回当前仍被持有或等待的键数量。
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
