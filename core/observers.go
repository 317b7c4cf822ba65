package core

// ObserverList is a registered-callback collection that tolerates Add and
// Remove from inside Each. Observers added during iteration are first notified
// on the next pass; observers removed during iteration are skipped immediately.
type ObserverList[T comparable] struct {
	entries   []*observerEntry[T]
	iterating int
	dirty     bool
}

type observerEntry[T comparable] struct {
	observer T
	removed  bool
}

// Add registers o. It reports false if o is already registered.
func (l *ObserverList[T]) Add(o T) bool {
	if l.Has(o) {
		return false
	}
	l.entries = append(l.entries, &observerEntry[T]{observer: o})
	return true
}

// Remove unregisters o. It reports false if o was not registered.
func (l *ObserverList[T]) Remove(o T) bool {
	for i, entry := range l.entries {
		if entry.removed || entry.observer != o {
			continue
		}
		if l.iterating > 0 {
			entry.removed = true
			l.dirty = true
			return true
		}
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		return true
	}
	return false
}

// Has reports whether o is registered.
func (l *ObserverList[T]) Has(o T) bool {
	for _, entry := range l.entries {
		if !entry.removed && entry.observer == o {
			return true
		}
	}
	return false
}

// Each calls fn for every observer registered when the pass started.
func (l *ObserverList[T]) Each(fn func(T)) {
	l.iterating++
	defer func() {
		l.iterating--
		if l.iterating == 0 && l.dirty {
			l.compact()
		}
	}()
	end := len(l.entries)
	for i := 0; i < end && i < len(l.entries); i++ {
		entry := l.entries[i]
		if entry.removed {
			continue
		}
		fn(entry.observer)
	}
}

// Clear removes every observer.
func (l *ObserverList[T]) Clear() {
	if l.iterating > 0 {
		for _, entry := range l.entries {
			entry.removed = true
		}
		l.dirty = true
		return
	}
	l.entries = nil
}

func (l *ObserverList[T]) compact() {
	kept := l.entries[:0]
	for _, entry := range l.entries {
		if !entry.removed {
			kept = append(kept, entry)
		}
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = kept
	l.dirty = false
}
