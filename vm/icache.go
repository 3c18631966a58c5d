package vm

import (
	"sync"
	"sync/atomic"

	"github.com/deepnoodle-ai/dvm/object"
)

type ifaceKey struct {
	class  *object.Class
	method *object.Method
}

// ifaceCache memoizes interface method lookups by receiver class. Entries
// never go stale: linked classes do not change.
type ifaceCache struct {
	mu      sync.RWMutex
	entries map[ifaceKey]*object.Method
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// lookup returns the implementation of the interface method m for receivers
// of class c. A class that does not implement m's interface raises
// IncompatibleClassChangeError; a missing implementation raises
// AbstractMethodError.
func (ic *ifaceCache) lookup(c *object.Class, m *object.Method) (*object.Method, error) {
	key := ifaceKey{c, m}
	ic.mu.RLock()
	impl, ok := ic.entries[key]
	ic.mu.RUnlock()
	if ok {
		ic.hits.Add(1)
		return impl, nil
	}
	ic.misses.Add(1)
	if !c.Implements(m.Class) {
		return nil, object.Throwf(object.ExIncompatibleClassChange,
			"class %s does not implement interface %s", c.Name(), m.Class.Name())
	}
	impl = c.FindInterfaceMethod(m)
	if impl == nil || impl.IsAbstract() {
		return nil, object.Throwf(object.ExAbstractMethod, "%s->%s%s", c.Descriptor, m.Name, m.Descriptor)
	}
	ic.mu.Lock()
	ic.entries[key] = impl
	ic.mu.Unlock()
	return impl, nil
}

func (ic *ifaceCache) stats() (hits, misses uint64) {
	return ic.hits.Load(), ic.misses.Load()
}
