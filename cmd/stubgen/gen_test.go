package main

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const counterSrc = `package counter

import (
	"context"
	"time"

	amp "github.com/codewandler/ampd-go/core/dispatch"
)

type Counter interface {
	Add(ctx context.Context, n int)
	Get(ctx context.Context, r amp.Result[int])
	Value(ctx context.Context) (int, error)
	Reset(context.Context) error
	Tail(ctx context.Context, since time.Time, s amp.PipeIn[int])
	Load(ctx context.Context, p amp.PipeOut[[]byte])
	Each(ctx context.Context, st amp.Stream[string])
}

type helper interface {
	String() string
}
`

func TestGenerate(t *testing.T) {
	code, err := generate("counter.go", []byte(counterSrc), nil)
	require.NoError(t, err)

	src := string(code)
	_, err = parser.ParseFile(token.NewFileSet(), "counter_ampd.go", code, 0)
	require.NoError(t, err, src)

	require.Contains(t, src, "// Code generated by ampd-stubgen. DO NOT EDIT.")
	require.Contains(t, src, `amp "github.com/codewandler/ampd-go/core/dispatch"`)
	require.Contains(t, src, `"time"`)
	require.Contains(t, src, "type counterStub struct{ amp.Stub }")
	require.Contains(t, src, `_ = s.Proxy().Send(ctx, "Add", n)`)
	require.Contains(t, src, `_ = s.Proxy().Query(ctx, "Get", r)`)
	require.Contains(t, src, `return amp.Call[int](ctx, s.Proxy(), "Value")`)
	require.Contains(t, src, `return amp.CallErr(a0, s.Proxy(), "Reset")`)
	require.Contains(t, src, `_ = st.Proxy().PipeIn(ctx, "Tail", since, s)`, "receiver must not shadow parameter s")
	require.Contains(t, src, `_ = s.Proxy().PipeOut(ctx, "Load", p)`)
	require.Contains(t, src, `_ = s.Proxy().Stream(ctx, "Each", st)`)
	require.Contains(t, src, "amp.RegisterStub(func(p *amp.Proxy) Counter { return counterStub{amp.NewStub(p)} })")

	// helper has no context parameter and is skipped
	require.NotContains(t, src, "helperStub")
}

func TestGenerate_NamedTypes(t *testing.T) {
	_, err := generate("counter.go", []byte(counterSrc), []string{"helper"})
	require.ErrorIs(t, err, errSkip)

	_, err = generate("counter.go", []byte(counterSrc), []string{"Missing"})
	require.ErrorIs(t, err, errNoInterfaces)

	code, err := generate("counter.go", []byte(counterSrc), []string{"Counter"})
	require.NoError(t, err)
	require.Contains(t, string(code), "counterStub")
}

func TestGenerate_InvalidShapes(t *testing.T) {
	src := `package x

import (
	"context"

	"github.com/codewandler/ampd-go/core/dispatch"
)

type Bad interface {
	Both(ctx context.Context, r dispatch.Result[int]) error
}
`
	_, err := generate("x.go", []byte(src), []string{"Bad"})
	require.ErrorIs(t, err, errSkip)
	require.ErrorContains(t, err, "Bad.Both")
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "counter.go")
	require.NoError(t, os.WriteFile(in, []byte(counterSrc), 0o644))

	require.NoError(t, run(in, "", "Counter"))
	code, err := os.ReadFile(filepath.Join(dir, "counter_ampd.go"))
	require.NoError(t, err)
	require.Contains(t, string(code), "package counter")

	require.Error(t, run("", "", ""))
}
