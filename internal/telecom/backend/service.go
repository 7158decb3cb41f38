// Package backend connects calls to the connection services that carry
// them: the service contract, the registry of running services, and the
// processor that walks a call's candidate accounts until one accepts it.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// Request asks a connection service to create the connection for one call
type Request struct {
	CallID      string
	Account     account.Handle
	Handle      call.Address
	Gateway     *call.GatewayInfo
	Direction   call.Direction
	IsUnknown   bool
	IsEmergency bool
	VideoState  call.VideoState
	Extras      map[string]string
}

// Result is what a service reports once it has accepted a call
type Result = call.ConnectionDetails

// ConnectionService is a backend able to place, receive and control calls.
//
// CreateConnection may block until the network answers; it must return
// promptly once ctx is cancelled. The call.Connection methods are one-way
// and must not block.
type ConnectionService interface {
	call.Connection
	CreateConnection(ctx context.Context, req Request) (*Result, error)
}

// Repository holds the running connection services by component id.
// Thread Safety: All methods are safe for concurrent use.
type Repository struct {
	mu       sync.RWMutex
	services map[string]ConnectionService
	order    []string
	onDeath  []func(ConnectionService)
}

// NewRepository creates an empty repository
func NewRepository() *Repository {
	return &Repository{services: make(map[string]ConnectionService)}
}

// Register makes svc reachable under its component id
func (r *Repository) Register(svc ConnectionService) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := svc.ID()
	if _, ok := r.services[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateService, id)
	}
	r.services[id] = svc
	r.order = append(r.order, id)
	slog.Info("[Backend] Connection service registered", "component", id)
	return nil
}

// Service returns the service for component id, or nil
func (r *Repository) Service(componentID string) ConnectionService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[componentID]
}

// All returns every service in registration order
func (r *Repository) All() []ConnectionService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnectionService, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

// OnDeath registers fn to run when a service reports that it has died
func (r *Repository) OnDeath(fn func(ConnectionService)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDeath = append(r.onDeath, fn)
}

// ReportDeath unregisters svc and notifies the death listeners. Services
// call it when their transport is gone for good.
func (r *Repository) ReportDeath(svc ConnectionService) {
	r.mu.Lock()
	id := svc.ID()
	if r.services[id] == svc {
		delete(r.services, id)
		r.order = slices.DeleteFunc(r.order, func(o string) bool { return o == id })
	}
	listeners := slices.Clone(r.onDeath)
	r.mu.Unlock()

	slog.Warn("[Backend] Connection service died", "component", id)
	for _, fn := range listeners {
		fn(svc)
	}
}
