package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/ampd-go/core/dispatch"
)

// === Config ===

type config struct {
	N         int           `envconfig:"N" default:"100000"`
	BatchSize int           `envconfig:"B" default:"10000"`
	Workers   int           `envconfig:"WORKERS" default:"8"`
	Services  int           `envconfig:"SERVICES" default:"4"`
	Mode      string        `envconfig:"MODE" default:"query"` // query, call or send
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"2m"`
	LogLevel  slog.Level    `envconfig:"LOG_LEVEL" default:"INFO"`
}

// === Domain ===

type Echo interface {
	Echo(ctx context.Context, n int, r dispatch.Result[int])
	Square(ctx context.Context, n int) (int, error)
	Tick(ctx context.Context)
}

type echoStub struct{ dispatch.Stub }

func (s echoStub) Echo(ctx context.Context, n int, r dispatch.Result[int]) {
	_ = s.Proxy().Query(ctx, "Echo", n, r)
}

func (s echoStub) Square(ctx context.Context, n int) (int, error) {
	return dispatch.Call[int](ctx, s.Proxy(), "Square", n)
}

func (s echoStub) Tick(ctx context.Context) {
	_ = s.Proxy().Send(ctx, "Tick")
}

func init() {
	dispatch.RegisterStub(func(p *dispatch.Proxy) Echo { return echoStub{dispatch.NewStub(p)} })
}

type echo struct {
	ticks atomic.Int64
}

func (e *echo) Echo(_ context.Context, n int, r dispatch.Result[int]) { r.Ok(n) }

func (e *echo) Square(_ context.Context, n int) (int, error) { return n * n, nil }

func (e *echo) Tick(context.Context) { e.ticks.Add(1) }

// === Main ===

func main() {
	var cfg config
	checkErr(envconfig.Process("LOADTEST", &cfg))
	rcfg, err := dispatch.LoadConfig()
	checkErr(err)

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	rt, err := dispatch.New(dispatch.Options{Context: ctx, Logger: log, Config: rcfg})
	checkErr(err)
	defer rt.Close()

	impls := make([]*echo, cfg.Services)
	stubs := make([]Echo, cfg.Services)
	for i := range cfg.Services {
		impls[i] = &echo{}
		ref, err := rt.Publish(ctx, dispatch.Address(fmt.Sprintf("echo-%d", i)), impls[i])
		checkErr(err)
		stubs[i], err = dispatch.NewAdapter[Echo](ref)
		checkErr(err)
	}

	fmt.Printf("    mode: %s\n", cfg.Mode)
	fmt.Printf("messages: %d (%d workers, %d services)\n", cfg.N, cfg.Workers, cfg.Services)
	fmt.Printf("   debug: %t\n", rcfg.Debug)

	log.Info("==================================")
	log.Info("Starting ...")

	var (
		done     atomic.Int64
		failed   atomic.Int64
		startAt  = time.Now()
		muBatch  sync.Mutex
		lastTime = startAt
	)
	progress := func() {
		i := done.Add(1)
		if i%int64(cfg.BatchSize) != 0 {
			return
		}
		muBatch.Lock()
		defer muBatch.Unlock()
		mu := getMemUsage()
		n := time.Now()
		took := n.Sub(lastTime)
		lastTime = n
		fmt.Printf(" | %7d msgs | %6d ms | %8d msgs/s | (%d / %d) MiB mem (sys) |\n",
			cfg.BatchSize, took.Milliseconds(), int(float64(cfg.BatchSize)/took.Seconds()),
			mu.Alloc/1024/1024, mu.Sys/1024/1024)
	}

	g, gctx := errgroup.WithContext(ctx)
	per := cfg.N / cfg.Workers
	for w := range cfg.Workers {
		g.Go(func() error {
			for i := range per {
				s := stubs[(w+i)%len(stubs)]
				if err := callOnce(gctx, cfg.Mode, s, i); err != nil {
					failed.Add(1)
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Debug("call failed", slog.Any("error", err))
				}
				progress()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("load test aborted", slog.Any("error", err))
	}

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	var ticks int64
	for _, e := range impls {
		ticks += e.ticks.Load()
	}
	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("    completed: %d\n", done.Load())
	fmt.Printf("       failed: %d\n", failed.Load())
	fmt.Printf("   ticks seen: %d\n", ticks)
	fmt.Printf("  avg. msgs/s: %d\n", int(float64(done.Load())/took.Seconds()))
}

func callOnce(ctx context.Context, mode string, s Echo, i int) error {
	switch mode {
	case "send":
		s.Tick(ctx)
		return nil
	case "call":
		v, err := s.Square(ctx, i)
		if err == nil && v != i*i {
			err = fmt.Errorf("square(%d) = %d", i, v)
		}
		return err
	default:
		ch := make(chan error, 1)
		s.Echo(ctx, i, dispatch.OnResult(func(v int, err error) {
			if err == nil && v != i {
				err = fmt.Errorf("echo(%d) = %d", i, v)
			}
			ch <- err
		}))
		return <-ch
	}
}

// === stats helpers ===

type MemUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{Alloc: m.Alloc, Sys: m.Sys}
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
