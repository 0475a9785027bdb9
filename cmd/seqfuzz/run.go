package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/vikasavnish/seqfuzz/pkg/checkers"
	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/driver"
	"github.com/vikasavnish/seqfuzz/pkg/executor"
	"github.com/vikasavnish/seqfuzz/pkg/fuzzing"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/replay"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/tracer"
)

const defaultSettingsFile = "seqfuzz.yaml"

// runResult is what a fuzzing run leaves behind.
type runResult struct {
	Renderings int
	Stats      driver.Stats
	Bugs       []replay.Bucket
}

func handleFuzz(mode string) {
	grammarPath := positional(os.Args)
	if grammarPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: seqfuzz fuzz|smoke <grammar.json> [--settings file] [--dictionary file] [--jobs N] [--mode mode]")
		os.Exit(1)
	}

	settings, err := loadSettings(os.Args, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Settings error: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logger.New(settings.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Setup(ctx, settings.Tracer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tracer error: %v\n", err)
		os.Exit(1)
	}
	defer shutdown(context.Background())

	collection, err := loadGrammar(grammarPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Grammar error: %v\n", err)
		os.Exit(1)
	}

	result, err := runFuzz(ctx, settings, collection, log)
	if result != nil {
		printRunResults(result)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fuzzing error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings reads the settings file and applies command-line
// overrides. mode, when set, wins over --mode.
func loadSettings(args []string, mode string) (*config.Settings, error) {
	path := flagValue(args, "--settings")
	if path == "" {
		path = defaultSettingsFile
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v := flagValue(args, "--dictionary"); v != "" {
		settings.DictionaryFile = v
	}
	if v := flagValue(args, "--jobs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid --jobs %q: %w", v, err)
		}
		settings.FuzzingJobs = n
	}
	if v := flagValue(args, "--mode"); v != "" {
		settings.FuzzingMode = v
	}
	if mode != "" {
		settings.FuzzingMode = mode
	}

	if err := config.Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func loadGrammar(path string) (*requests.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return requests.LoadGrammar(f)
}

func loadPool(settings *config.Settings) (*primitives.Pool, error) {
	if settings.DictionaryFile == "" {
		return primitives.NewPool(nil), nil
	}
	f, err := os.Open(settings.DictionaryFile)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	dict, err := primitives.LoadDictionary(f)
	if err != nil {
		return nil, err
	}
	return primitives.NewPool(dict), nil
}

// runFuzz wires the executor, checkers, bug buckets and garbage collector
// around a driver and runs it to termination. Leftover dynamic objects
// are cleaned up even when generation fails.
func runFuzz(ctx context.Context, settings *config.Settings, collection *requests.Collection, log *slog.Logger) (*runResult, error) {
	pool, err := loadPool(settings)
	if err != nil {
		return nil, err
	}

	exec, err := executor.NewExecutor(settings.Target, settings.Retry, log)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	defer exec.Close()

	fc, err := fuzzing.NewContext(settings, collection, pool, exec, log)
	if err != nil {
		return nil, err
	}

	bugs := replay.NewBugBuckets(settings.BugBucketsDir, log)
	cs, err := checkers.New(settings.Checkers, checkers.Deps{
		Reporter:    bugs,
		Logger:      log,
		PayloadBody: settings.PayloadBody,
	})
	if err != nil {
		return nil, err
	}

	gc := fc.NewGarbageCollector()
	gc.Start(ctx, settings.GarbageCollection.Interval)

	d := driver.New(fc, cs, bugs)
	d.SetGarbageCollector(gc)
	n, runErr := d.GenerateSequences(ctx)

	// cleanup must still run after an interrupt
	gcErr := gc.Finish(context.WithoutCancel(ctx), settings.GarbageCollection.MaxCleanupTime)
	if gcErr != nil {
		log.Error("garbage collection did not finish", "error", gcErr)
	}

	result := &runResult{Renderings: n, Stats: d.Stats(), Bugs: bugs.Buckets()}
	return result, errors.Join(runErr, gcErr)
}

func printRunResults(r *runResult) {
	fmt.Printf("Termination:  %s\n", r.Stats.Termination)
	fmt.Printf("Generations:  %d\n", len(r.Stats.Generations))
	fmt.Printf("Renderings:   %d (%d valid)\n", r.Renderings, r.Stats.ValidRenderings)
	fmt.Printf("Bug buckets:  %d\n", len(r.Bugs))
	for _, b := range r.Bugs {
		fmt.Printf("  %s  %s_%d  x%d  %v\n", b.ID, b.Origin, b.StatusCode, b.Count, b.Requests)
		if b.Path != "" {
			fmt.Printf("    %s\n", b.Path)
		}
	}
}

func handleValidate() {
	grammarPath := positional(os.Args)
	if grammarPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: seqfuzz validate <grammar.json>")
		os.Exit(1)
	}

	collection, err := loadGrammar(grammarPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid grammar: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Grammar is valid")
	fmt.Printf("  Requests: %d\n", collection.Len())
	failed := false
	for _, r := range collection.Requests() {
		goal, err := driver.ComputeGoalSequence(r, collection)
		if err != nil {
			fmt.Printf("  ✗ %-24s %s %s: %v\n", r.ID(), r.Method(), r.Endpoint(), err)
			failed = true
			continue
		}
		ids := make([]string, len(goal))
		for i, g := range goal {
			ids[i] = g.ID()
		}
		fmt.Printf("  ✓ %-24s %s %s  goal: %v\n", r.ID(), r.Method(), r.Endpoint(), ids)
	}
	if failed && hasFlag(os.Args, "--strict") {
		os.Exit(1)
	}
}

func handleReplay() {
	logPath := positional(os.Args)
	if logPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: seqfuzz replay <replay.txt> [--settings file]")
		os.Exit(1)
	}

	settings, err := loadSettings(os.Args, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Settings error: %v\n", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.New(settings.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read replay log: %v\n", err)
		os.Exit(1)
	}
	parsed, err := replay.Parse(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parse error: %v\n", err)
		os.Exit(1)
	}

	exec, err := executor.NewExecutor(settings.Target, settings.Retry, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Executor error: %v\n", err)
		os.Exit(1)
	}
	defer exec.Close()

	responses, err := replay.Run(ctx, exec, parsed, settings.Async.PollInterval)
	for i, resp := range responses {
		fmt.Printf("%d. %s\n", i+1, resp.Status())
		if recorded := parsed.Entries[i].PreviousResponse; recorded != "" {
			fmt.Printf("   recorded: %s\n", firstLine(recorded))
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Replay error: %v\n", err)
		os.Exit(1)
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
