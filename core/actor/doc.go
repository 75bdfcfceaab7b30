// Package actor provides the mailbox-based executor that dispatch targets
// run on.
//
// Each actor:
//   - Has a unique identity
//   - Processes messages sequentially from its mailbox, one turn at a time
//   - Groups consecutive messages into batches that end when the mailbox drains
//   - Can schedule background tasks via [HandlerCtx.Schedule]
//   - Can be paused, resumed, and stepped for debugging/testing
//
// # Creating Actors
//
//	a := actor.New(actor.Options{
//	    OnBatchEnd: func(hc actor.HandlerCtx) { flush(hc) },
//	})
//	defer a.Stop()
//
// # Sending Messages
//
// A [Message] is anything with an Invoke method. [MessageFunc] adapts a plain
// function:
//
//	err := a.Send(ctx, actor.MessageFunc(func(hc actor.HandlerCtx) {
//	    hc.Log().Info("running inside the actor")
//	}))
//
// Send blocks until the message is enqueued, ctx is done, or the actor stops.
// [Actor.TrySend] never blocks.
//
// # Background Tasks
//
// Handlers can schedule background work via [HandlerCtx.Schedule]. Tasks run
// on a bounded worker pool; the actor waits for them during shutdown.
//
// # Lifecycle Control
//
//	a.Pause()       // Stop processing messages
//	a.Step()        // Process exactly one message
//	a.Resume()      // Continue normal processing
//	<-a.Done()      // Wait for actor shutdown
package actor
