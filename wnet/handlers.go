package wnet

import (
	"fmt"
	"sync"
)

// HandlerMap is a concurrency-safe route table.
// Concrete transports embed it to implement Listen and Clear.
type HandlerMap struct {
	mu sync.RWMutex
	m  map[string]Handler
}

func (hm *HandlerMap) Listen(route string, h Handler) {
	if h == nil {
		panic(fmt.Errorf("BUG: nil handler for route %q", route))
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.m == nil {
		hm.m = make(map[string]Handler)
	}
	hm.m[route] = h
}

func (hm *HandlerMap) Clear() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	clear(hm.m)
}

// Lookup returns the handler for route.
// The lock is released before returning,
// so a handler may call Listen or Clear on its own node.
func (hm *HandlerMap) Lookup(route string) (Handler, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	h, ok := hm.m[route]
	return h, ok
}
