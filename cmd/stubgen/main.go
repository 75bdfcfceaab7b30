// Command stubgen writes dispatch stubs for service interfaces.
//
// Each stub embeds dispatch.Stub, forwards every interface method to the
// proxy by name and registers itself with dispatch.RegisterStub. Typical use:
//
//	//go:generate go run github.com/codewandler/ampd-go/cmd/stubgen -type Counter
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	var (
		in    = flag.String("in", os.Getenv("GOFILE"), "source file declaring the interfaces")
		out   = flag.String("out", "", "output file (default <in>_ampd.go)")
		types = flag.String("type", "", "comma separated interface names (default all service interfaces)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*in, *out, *types); err != nil {
		log.Error("stubgen failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(in, out, types string) error {
	if in == "" {
		return fmt.Errorf("no input file: set -in or run via go generate")
	}
	if out == "" {
		out = strings.TrimSuffix(in, ".go") + "_ampd.go"
	}

	src, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	var names []string
	if types != "" {
		names = strings.Split(types, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
	}

	code, err := generate(filepath.Base(in), src, names)
	if err != nil {
		return err
	}
	return os.WriteFile(out, code, 0o644)
}
