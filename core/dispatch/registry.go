package dispatch

import (
	"context"
	"slices"
	"time"

	"github.com/codewandler/ampd-go/core/actor"
)

// QueryInfo describes an outstanding query of a debug proxy.
type QueryInfo struct {
	Token    string            `json:"token"`
	Target   Address           `json:"target"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Location string            `json:"location"`
	Started  time.Time         `json:"started"`
}

// Age returns how long the query has been outstanding.
func (q QueryInfo) Age() time.Duration { return time.Since(q.Started) }

// QueryRegistry holds in-flight debug queries for inspection. It is never
// consulted for delivery.
type QueryRegistry struct {
	state *actor.State[map[string]QueryInfo]
}

func newQueryRegistry(ctx context.Context, m Metrics) *QueryRegistry {
	data := make(map[string]QueryInfo)
	return &QueryRegistry{
		state: actor.NewState(ctx, &data, func(q *map[string]QueryInfo) {
			m.OutstandingQueries(len(*q))
		}),
	}
}

func (r *QueryRegistry) add(info QueryInfo) {
	r.state.Submit(func(q *map[string]QueryInfo) { (*q)[info.Token] = info })
}

func (r *QueryRegistry) remove(token string) {
	r.state.Submit(func(q *map[string]QueryInfo) { delete(*q, token) })
}

// Snapshot returns the outstanding queries, oldest first.
func (r *QueryRegistry) Snapshot() []QueryInfo {
	out, _ := actor.Read(r.state, func(q *map[string]QueryInfo) []QueryInfo {
		out := make([]QueryInfo, 0, len(*q))
		for _, info := range *q {
			out = append(out, info)
		}
		return out
	})
	slices.SortFunc(out, func(a, b QueryInfo) int { return a.Started.Compare(b.Started) })
	return out
}

// Len returns the number of outstanding queries.
func (r *QueryRegistry) Len() int {
	n, _ := actor.Read(r.state, func(q *map[string]QueryInfo) int { return len(*q) })
	return n
}
