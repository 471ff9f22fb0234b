package message

import (
	"fmt"
	"sync"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/netbuf"
)

// Handler receives the payload of one message. The payload aliases the batch
// it arrived in and must be copied if kept past the call.
type Handler func(connId uint32, payload []byte) error

type registration struct {
	name    string
	handler Handler
}

// Registry maps message ids to names and handlers. Registration is expected
// at startup; dispatch may run concurrently with it.
type Registry struct {
	mut_handlers sync.RWMutex
	handlers     map[MessageId]registration
	names        map[string]MessageId
}

func CreateRegistry() *Registry {
	return &Registry{
		mut_handlers: sync.RWMutex{},
		handlers:     make(map[MessageId]registration),
		names:        make(map[string]MessageId),
	}
}

// Register adds a handler. Both the id and the name must be unused.
func (r *Registry) Register(id MessageId, name string, handler Handler) error {
	r.mut_handlers.Lock()
	defer r.mut_handlers.Unlock()

	if existing, has := r.handlers[id]; has {
		return &errors.NameCollision{
			CollisionContext: "MessageRegistry::Id",
			Name:             fmt.Sprintf("%d (%s, already %s)", id, name, existing.name),
		}
	}
	if _, has := r.names[name]; has {
		return &errors.NameCollision{
			CollisionContext: "MessageRegistry::Name",
			Name:             name,
		}
	}

	r.handlers[id] = registration{name: name, handler: handler}
	r.names[name] = id
	return nil
}

// Replace swaps the handler of an already registered id, or registers it.
func (r *Registry) Replace(id MessageId, name string, handler Handler) {
	r.mut_handlers.Lock()
	defer r.mut_handlers.Unlock()

	if existing, has := r.handlers[id]; has {
		delete(r.names, existing.name)
	}
	r.handlers[id] = registration{name: name, handler: handler}
	r.names[name] = id
}

func (r *Registry) Unregister(id MessageId) {
	r.mut_handlers.Lock()
	defer r.mut_handlers.Unlock()

	if existing, has := r.handlers[id]; has {
		delete(r.names, existing.name)
		delete(r.handlers, id)
	}
}

// Name returns the registered name of id, or a placeholder for unknown ids.
func (r *Registry) Name(id MessageId) string {
	r.mut_handlers.RLock()
	defer r.mut_handlers.RUnlock()

	if reg, has := r.handlers[id]; has {
		return reg.name
	}
	return fmt.Sprintf("Unknown(%d)", id)
}

func (r *Registry) IdOf(name string) (MessageId, bool) {
	r.mut_handlers.RLock()
	defer r.mut_handlers.RUnlock()

	id, has := r.names[name]
	return id, has
}

// Dispatch unpacks one envelope from reader and calls its handler. The
// envelope is consumed even when no handler is registered for it. A truncated
// envelope leaves the reader where it started.
func (r *Registry) Dispatch(connId uint32, reader *netbuf.Reader) (MessageId, error) {
	id, payload, err := Unpack(reader)
	if err != nil {
		return 0, err
	}
	return id, r.Invoke(connId, id, payload)
}

// Invoke calls the handler registered for id.
func (r *Registry) Invoke(connId uint32, id MessageId, payload []byte) error {
	r.mut_handlers.RLock()
	reg, has := r.handlers[id]
	r.mut_handlers.RUnlock()

	if !has {
		return &errors.UnknownMessageId{Id: uint16(id)}
	}

	if err := reg.handler(connId, payload); err != nil {
		return fmt.Errorf("handling %s: %w", reg.name, err)
	}
	return nil
}

// Handle registers a handler that receives parsed messages of one type.
func Handle[T any](r *Registry, id MessageId, name string, parse func(*netbuf.Reader) (T, error), handler func(connId uint32, msg T)) error {
	return r.Register(id, name, func(connId uint32, payload []byte) error {
		msg, err := parse(netbuf.NewReader(payload))
		if err != nil {
			return err
		}
		handler(connId, msg)
		return nil
	})
}
