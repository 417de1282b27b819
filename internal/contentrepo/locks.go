package contentrepo

import (
	"slices"
	"sync"

	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// keyedLocker hands out read/write locks per resource identity. Keys are always
// taken in sorted order, so two holders of overlapping key sets cannot deadlock.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.RWMutex
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*keyLock)}
}

// lock acquires all keys and returns the function that releases them.
func (l *keyedLocker) lock(keys []string, exclusive bool) func() {
	keys = normalizeKeys(keys)
	held := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		kl := l.acquire(k)
		if exclusive {
			kl.mu.Lock()
		} else {
			kl.mu.RLock()
		}
		held = append(held, kl)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				if exclusive {
					held[i].mu.Unlock()
				} else {
					held[i].mu.RUnlock()
				}
				l.release(keys[i])
			}
		})
	}
}

func (l *keyedLocker) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyedLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size returns the number of keys currently referenced.
func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func normalizeKeys(keys []string) []string {
	out := slices.Clone(keys)
	out = slices.DeleteFunc(out, func(k string) bool { return k == "" })
	slices.Sort(out)
	return slices.Compact(out)
}

func idKey(id string) string {
	if id == "" {
		return ""
	}
	return "id:" + id
}

func pathKey(p string) string {
	p = domain.NormalizePath(p)
	if p == "" {
		return ""
	}
	return "path:" + p
}

// identityKeys returns the keys that guard a resource identity.
func identityKeys(uris ...domain.ResourceURI) []string {
	keys := make([]string, 0, 2*len(uris))
	for _, u := range uris {
		keys = append(keys, idKey(u.ID), pathKey(u.Path))
	}
	return keys
}

// covers reports whether every key in want is in held.
func covers(held, want []string) bool {
	for _, k := range normalizeKeys(want) {
		if _, found := slices.BinarySearch(held, k); !found {
			return false
		}
	}
	return true
}
