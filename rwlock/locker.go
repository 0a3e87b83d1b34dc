package rwlock

import "sync"

// ReadLocker returns a sync.Locker whose Lock and Unlock calls map to
// LockForRead and UnlockRead. Useful for passing the shared side of the
// lock to code that expects a plain Locker, and for scoped release:
//
//	r := l.ReadLocker()
//	r.Lock()
//	defer r.Unlock()
func (l *ReadWriteLock) ReadLocker() sync.Locker {
	return (*readLocker)(l)
}

// WriteLocker returns a sync.Locker whose Lock and Unlock calls map to
// LockForWrite and UnlockWrite.
func (l *ReadWriteLock) WriteLocker() sync.Locker {
	return (*writeLocker)(l)
}

type readLocker ReadWriteLock

func (r *readLocker) Lock()   { (*ReadWriteLock)(r).LockForRead() }
func (r *readLocker) Unlock() { (*ReadWriteLock)(r).UnlockRead() }

type writeLocker ReadWriteLock

func (w *writeLocker) Lock()   { (*ReadWriteLock)(w).LockForWrite() }
func (w *writeLocker) Unlock() { (*ReadWriteLock)(w).UnlockWrite() }
