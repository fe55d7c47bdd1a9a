package handler

import (
	"fmt"

	"github.com/wisbric/auditdelivery/internal/db"
)

// Registry holds all available destination handlers, keyed by destination type.
type Registry struct {
	handlers map[db.DestinationType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[db.DestinationType]Handler)}
}

// Register adds a handler to the registry under the given destination type.
func (r *Registry) Register(destType db.DestinationType, h Handler) {
	r.handlers[destType] = h
}

// Get returns the handler registered for a destination type.
func (r *Registry) Get(destType db.DestinationType) (Handler, error) {
	h, ok := r.handlers[destType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for destination type %q", destType)
	}
	return h, nil
}
