package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Pipeflow/internal/engine"
)

// Registry — реестр capabilities.
//
// Позволяет регистрировать и получать Capability по имени.
// Потокобезопасен.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		caps: make(map[string]Capability),
	}
}

// Register регистрирует capability.
// Если capability с таким именем уже есть, она будет перезаписана.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
}

// Lookup возвращает capability по имени.
// Возвращает engine.ErrCapabilityNotFound, если имя неизвестно.
func (r *Registry) Lookup(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.caps[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", engine.ErrCapabilityNotFound, name)
	}
	return c, nil
}

// Has проверяет, зарегистрирована ли capability.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.caps[name]
	return exists
}

// Names возвращает отсортированный список имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List возвращает capabilities, отсортированные по имени.
func (r *Registry) List() []Capability {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Capability, 0, len(names))
	for _, name := range names {
		if c, ok := r.caps[name]; ok {
			list = append(list, c)
		}
	}
	return list
}

// Count возвращает количество зарегистрированных capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// Unregister удаляет capability из реестра.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caps, name)
}

// DefaultRegistry создаёт реестр со встроенными capabilities.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(NewEcho())
	r.Register(NewDelay())
	r.Register(NewHTTPRequest())
	r.Register(NewSystemInfo(r))

	return r
}
