package world

import (
	"sort"
	"sync"
)

// ActiveOrigins tracks sites that are the origin of an in-flight delivery.
// A label is held by at most one task at a time.
type ActiveOrigins struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewActiveOrigins() *ActiveOrigins {
	return &ActiveOrigins{owners: make(map[string]string)}
}

// Acquire marks label active for taskID. It succeeds when the label is free or
// already held by the same task.
func (a *ActiveOrigins) Acquire(label, taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if owner, ok := a.owners[label]; ok {
		return owner == taskID
	}
	a.owners[label] = taskID
	return true
}

// Release frees label if taskID holds it.
func (a *ActiveOrigins) Release(label, taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owners[label] == taskID {
		delete(a.owners, label)
	}
}

func (a *ActiveOrigins) Contains(label string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.owners[label]
	return ok
}

func (a *ActiveOrigins) Labels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.owners))
	for label := range a.owners {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func (a *ActiveOrigins) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.owners = make(map[string]string)
}
