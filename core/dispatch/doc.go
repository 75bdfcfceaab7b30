// Package dispatch turns typed method calls on service interfaces into
// messages for single-writer services and routes results back to callers.
//
// # Services
//
// A service is any value published on a [Runtime]. It runs on its own
// actor, so its methods never execute concurrently:
//
//	rt, _ := dispatch.New(dispatch.Options{})
//	defer rt.Close()
//
//	ref, err := rt.Publish(ctx, "counter", &counter{})
//
// # Stubs
//
// Callers use a stub of the service interface. Stubs embed [Stub] and
// forward every method to their [Proxy] by name; cmd/stubgen writes them:
//
//	type counterStub struct{ dispatch.Stub }
//
//	func (s counterStub) Add(ctx context.Context, n int) {
//	    _ = s.Proxy().Send(ctx, "Add", n)
//	}
//
//	func (s counterStub) Get(ctx context.Context) (int, error) {
//	    return dispatch.Call[int](ctx, s.Proxy(), "Get")
//	}
//
//	func init() {
//	    dispatch.RegisterStub(func(p *dispatch.Proxy) Counter { return counterStub{dispatch.NewStub(p)} })
//	}
//
//	c, err := dispatch.NewAdapter[Counter](ref)
//
// # Message kinds
//
// Each interface method is classified once by its shape:
//
//   - no results: Send, fire-and-forget; failures are logged, not returned
//   - (error) or (T, error): blocking query through [Call]
//   - a [Result] parameter: Query, completed through the Result
//   - a [Stream] parameter: Stream of values then Ok or Fail
//   - a [PipeOut] parameter: the caller publishes values into the target
//   - a [PipeIn] parameter: the target publishes values to the caller
//
// A leading context.Context is passed through and is not part of the shape.
//
// # Outbox
//
// Calls are queued in the [Outbox] bound to the caller's context and
// delivered when the scope that created it is released. Inside a service
// every message is processed with its own outbox, so everything a turn
// sends leaves when the turn ends, in order per destination.
//
// # Timeouts
//
// Queries, streams and pipe handshakes fail with [ErrTimeout] after the
// smaller of the proxy timeout, the context deadline and
// Config.QueryTimeout. A result that arrives later is dropped.
//
// # Debugging
//
// With Config.Debug or [WithDebug] a proxy adds service.N and method.N
// headers along the call chain, warns about likely cycles and records every
// query in the runtime's [QueryRegistry] until it completes.
package dispatch
