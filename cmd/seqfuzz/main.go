package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "fuzz":
		handleFuzz("")
	case "smoke":
		handleFuzz("directed-smoke-test")
	case "replay":
		handleReplay()
	case "validate":
		handleValidate()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`seqfuzz - Stateful REST API Fuzzer

Usage:
  seqfuzz fuzz <grammar.json>       Explore request sequences against the target
  seqfuzz smoke <grammar.json>      Render every request once through its goal sequence
  seqfuzz replay <replay.txt>       Re-send a bug bucket replay log
  seqfuzz validate <grammar.json>   Validate a grammar and print its dependencies
  seqfuzz help                      Show this help

Options:
  --settings <file>     YAML settings file (default: seqfuzz.yaml)
  --dictionary <file>   Fuzzing dictionary JSON, overrides dictionary_file
  --jobs <N>            Number of parallel render jobs
  --mode <mode>         Fuzzing mode: bfs, bfs-fast, bfs-cheap, bfs-minimal,
                        random-walk, directed-smoke-test, test-all-combinations
  --strict              validate: exit non-zero when a request has no goal sequence

Examples:
  # Smoke test every request
  seqfuzz smoke grammar.json --settings seqfuzz.yaml

  # Breadth-first fuzzing with 4 jobs
  seqfuzz fuzz grammar.json --mode bfs-cheap --jobs 4

  # Replay a bug
  seqfuzz replay bug_buckets/main_driver_500_01J0000000000000000000000.replay.txt

Environment Variables:
  SEQFUZZ_FUZZING_MODE, SEQFUZZ_FUZZING_JOBS, SEQFUZZ_TIME_BUDGET,
  SEQFUZZ_TARGET_HOST, SEQFUZZ_TARGET_PORT, SEQFUZZ_AUTH_TOKEN,
  SEQFUZZ_CHECKERS, SEQFUZZ_LOG_LEVEL

`)
}

func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

func flagValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// valueFlags take the following argument as their value.
var valueFlags = map[string]bool{
	"--settings":   true,
	"--dictionary": true,
	"--jobs":       true,
	"--mode":       true,
}

// positional returns the first argument after the command that is neither
// a flag nor a flag's value.
func positional(args []string) string {
	for i := 2; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") {
			if valueFlags[args[i]] {
				i++
			}
			continue
		}
		return args[i]
	}
	return ""
}
