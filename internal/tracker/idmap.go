package tracker

import "sync"

// idMap holds the transient mapping from locally generated temporary entry
// ids to server-confirmed ids. It lives only for the duration of one
// in-flight creation-then-mutation sequence and is never persisted.
type idMap struct {
	mu sync.Mutex
	m  map[string]string
}

func newIDMap() *idMap {
	return &idMap{m: make(map[string]string)}
}

func (im *idMap) put(tempID, realID string) {
	im.mu.Lock()
	im.m[tempID] = realID
	im.mu.Unlock()
}

func (im *idMap) get(tempID string) (string, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	id, ok := im.m[tempID]
	return id, ok
}
