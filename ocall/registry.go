package ocall

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry dispatches calls to the handlers registered by the host.
// It is safe for concurrent use.
type Registry struct {
	mux      sync.RWMutex
	handlers map[CallID]Handler
	log      *zap.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[CallID]Handler),
		log:      log,
	}
}

// Register installs the handler for id.
func (r *Registry) Register(id CallID, h Handler) error {
	if h == nil {
		return fmt.Errorf("registering %s: handler is nil", id)
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("registering %s: handler already registered", id)
	}
	r.handlers[id] = h
	return nil
}

// Unregister removes the handler for id, if any.
func (r *Registry) Unregister(id CallID) {
	r.mux.Lock()
	delete(r.handlers, id)
	r.mux.Unlock()
}

// Call invokes the handler registered for id with a copy of request.
//
// A missing handler, a done context, or a panicking handler yield an error wrapping [ErrTransport].
// Errors returned by the handler itself are wrapped in a [*ServiceError].
func (r *Registry) Call(ctx context.Context, id CallID, request []byte) (response []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: calling %s: %w", ErrTransport, id, err)
	}

	r.mux.RLock()
	h, ok := r.handlers[id]
	r.mux.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for %s", ErrTransport, id)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Handler panicked", zap.Stringer("call", id), zap.Any("panic", rec))
			response = nil
			err = fmt.Errorf("%w: handler for %s panicked: %v", ErrTransport, id, rec)
		}
	}()

	r.log.Debug("Calling host", zap.Stringer("call", id), zap.Int("requestSize", len(request)))
	response, err = h(ctx, append([]byte(nil), request...))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: calling %s: %w", ErrTransport, id, err)
		}
		r.log.Debug("Host call failed", zap.Stringer("call", id), zap.Error(err))
		return nil, &ServiceError{Call: id, Err: err}
	}
	return response, nil
}
