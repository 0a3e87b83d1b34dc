// Package keyed provides per-key reader-writer locking on top of
// rwlock.ReadWriteLock.
//
// A KeyedLock lazily creates one lock per string key and removes it again
// when the last holder releases, so the map only ever contains keys that
// are currently held or awaited. All locks created by one KeyedLock share
// the same recursion mode.
package keyed

import (
	"sync"

	"github.com/kolkov/rwlock/rwlock"
)

// entry is one key's lock together with the number of goroutines that have
// acquired or are currently acquiring it. The count is what keeps an entry
// alive while goroutines are still blocked on its lock.
type entry struct {
	holders int
	l       *rwlock.ReadWriteLock
}

// A KeyedLock maps string keys to individually acquirable reader-writer
// locks. The zero value is not usable; construct with New.
//
// Operations on distinct keys never contend beyond the brief map access;
// operations on the same key follow the full ReadWriteLock semantics,
// including recursion and upgrade when the KeyedLock was built in
// Recursive mode.
type KeyedLock struct {
	mu   sync.Mutex
	mode rwlock.RecursionMode
	keys map[string]*entry
}

// New creates an empty KeyedLock whose per-key locks use the given
// recursion mode.
func New(mode rwlock.RecursionMode) *KeyedLock {
	return &KeyedLock{
		mode: mode,
		keys: make(map[string]*entry),
	}
}

// LockForRead acquires shared access to key, blocking while a writer for
// that key is active or waiting.
func (k *KeyedLock) LockForRead(key string) {
	k.acquire(key).LockForRead()
}

// LockForWrite acquires exclusive access to key.
func (k *KeyedLock) LockForWrite(key string) {
	k.acquire(key).LockForWrite()
}

// UnlockRead releases one read hold on key. Releasing a key that is not
// held is a fatal usage error and panics.
func (k *KeyedLock) UnlockRead(key string) {
	k.release(key, func(l *rwlock.ReadWriteLock) { l.UnlockRead() })
}

// UnlockWrite releases one write hold on key. Releasing a key that is not
// held is a fatal usage error and panics.
func (k *KeyedLock) UnlockWrite(key string) {
	k.release(key, func(l *rwlock.ReadWriteLock) { l.UnlockWrite() })
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

// acquire registers interest in key and returns its lock. The holder count
// is incremented before the map mutex is released, so the entry cannot be
// reclaimed while the caller blocks on the returned lock.
func (k *KeyedLock) acquire(key string) *rwlock.ReadWriteLock {
	k.mu.Lock()
	e, ok := k.keys[key]
	if !ok {
		e = &entry{l: rwlock.NewWithMode(k.mode)}
		k.keys[key] = e
	}
	e.holders++
	k.mu.Unlock()
	return e.l
}

// release undoes one acquisition of key, dropping the entry when the last
// holder leaves. The inner unlock runs outside the map mutex; it never
// blocks, but it may panic on misuse and must not poison the map lock.
func (k *KeyedLock) release(key string, unlock func(*rwlock.ReadWriteLock)) {
	k.mu.Lock()
	e, ok := k.keys[key]
	if !ok {
		k.mu.Unlock()
		panic("rwlock: unlock of unheld key " + key)
	}
	e.holders--
	if e.holders == 0 {
		delete(k.keys, key)
	}
	k.mu.Unlock()

	unlock(e.l)
}
