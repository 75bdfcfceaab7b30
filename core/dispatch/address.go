package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/ampd-go/core/actor"
)

// Address identifies a service instance. Two refs with the same address are
// interchangeable.
type Address string

// NewAddress returns a fresh address of the form "<scheme>:<id>".
func NewAddress(scheme string) Address {
	return Address(scheme + ":" + gonanoid.Must())
}

func (a Address) String() string { return string(a) }

type (
	// Mailbox accepts messages for a service, blocking at most timeout.
	// A timeout of zero never blocks.
	Mailbox interface {
		Offer(ctx context.Context, msg actor.Message, timeout time.Duration) error
	}

	// RefHandle stands in for a Ref when it is serialized.
	RefHandle struct {
		Address   Address `json:"address"`
		Interface string  `json:"interface,omitempty"`
	}
)

// actorMailbox offers messages to an actor.
type actorMailbox struct {
	a actor.Actor
}

func (m *actorMailbox) Offer(ctx context.Context, msg actor.Message, timeout time.Duration) error {
	if timeout <= 0 {
		if !m.a.TrySend(msg) {
			return ErrMailboxFull
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.a.Send(ctx, msg); err != nil {
		if errors.Is(err, actor.ErrActorStopped) {
			return fmt.Errorf("%w: %w", ErrServiceClosed, err)
		}
		return fmt.Errorf("%w: %w", ErrMailboxFull, err)
	}
	return nil
}

// Ref is a capability for a published service. It is immutable after
// publication except for its closed flag.
type Ref struct {
	addr    Address
	rt      *Runtime
	ops     *OperationTable
	mailbox Mailbox

	// actor is set when the ref owns its actor; pinned refs run on owner's.
	actor actor.Actor
	owner *Ref

	closed atomic.Bool
}

func (r *Ref) Address() Address { return r.addr }

func (r *Ref) Runtime() *Runtime { return r.rt }

// Owner returns the ref whose actor executes this service's turns.
func (r *Ref) Owner() *Ref {
	if r.owner != nil {
		return r.owner
	}
	return r
}

// Equal compares refs by address only.
func (r *Ref) Equal(o *Ref) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.addr == o.addr
}

func (r *Ref) String() string {
	return fmt.Sprintf("Ref[%s]", r.addr)
}

// Type returns the qualified type name of the published implementation.
func (r *Ref) Type() string { return r.ops.Name() }

// Resolve looks a method up on the target. See OperationTable.Resolve.
func (r *Ref) Resolve(name string, shape []reflect.Type) (*Method, error) {
	return r.ops.Resolve(name, shape)
}

// Describe reports the target's operation called name.
func (r *Ref) Describe(name string) (OperationInfo, bool) {
	return r.ops.Describe(name)
}

// Handle returns the serialization substitute of r.
func (r *Ref) Handle() RefHandle {
	return RefHandle{Address: r.addr}
}

func (r *Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Handle())
}

func (r *Ref) IsClosed() bool {
	return r.closed.Load() || r.Owner().closed.Load()
}

// Close unpublishes the service and, when r owns its actor, waits for the
// actor to stop. It must not be called from one of r's own turns.
// Close is idempotent.
func (r *Ref) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.rt.unregister(r)
	if r.actor != nil {
		r.actor.Stop()
	}
	return nil
}

// offer hands env to the target mailbox bounded by the envelope's offer
// timeout.
func (r *Ref) offer(ctx context.Context, env *Envelope) error {
	if r.IsClosed() {
		return fmt.Errorf("%w: %s", ErrServiceClosed, r.addr)
	}
	return r.mailbox.Offer(ctx, env, env.offerTimeout)
}
