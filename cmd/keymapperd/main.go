// Command keymapperd runs one injection-core Injector per configured
// hardware device: it loads a device's Mapping snapshot, compiles it
// against the built-in symbol table, and remaps its events to a
// synthetic uinput output until it receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hixan/key-mapper/internal/config"
	"github.com/hixan/key-mapper/internal/injector"
	"github.com/hixan/key-mapper/internal/symbols"
)

func run() error {
	name := flag.String("name", "device", "name for this device, used in the virtual output's name and config path")
	sources := flag.String("sources", "", "comma-separated evdev source node paths to grab, e.g. /dev/input/event3,/dev/input/event4")
	cfgPath := flag.String("config", "", "path to this device's TOML Mapping snapshot (defaults to ~/.config/key-mapper/<name>.toml)")
	debug := flag.Bool("debug", false, "enable debug trace logging of tracker decisions")
	flag.Parse()

	if *sources == "" {
		return fmt.Errorf("-sources is required")
	}
	paths := strings.Split(*sources, ",")

	var dbg *log.Logger
	if *debug {
		dbg = log.New(os.Stderr, "[DEBUG] ", log.Ltime|log.Lmicroseconds)
	} else {
		dbg = log.New(io.Discard, "", 0)
	}

	path := *cfgPath
	if path == "" {
		path = config.DefaultPath(*name)
	}
	file, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	resolver := symbols.Default()
	m, err := config.Compile(file, resolver)
	if err != nil {
		dbg.Printf("mapping compiled with errors: %v", err)
	}

	inj, err := injector.New(*name, paths, m, resolver, dbg, *debug)
	if err != nil {
		return fmt.Errorf("create injector: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		inj.Stop()
	}()

	return inj.Start(context.Background())
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
