package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError accumulates settings validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "settings validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

var validModes = map[string]bool{
	ModeBFS:                 true,
	ModeBFSFast:             true,
	ModeBFSCheap:            true,
	ModeBFSMinimal:          true,
	ModeRandomWalk:          true,
	ModeDirectedSmokeTest:   true,
	ModeTestAllCombinations: true,
}

var validFuzzStrategies = map[string]bool{
	"":       true,
	"single": true,
	"path":   true,
	"all":    true,
}

var validPropagation = map[string]bool{
	"EX":          true,
	"D1":          true,
	"linear_bias": true,
}

// Validate checks settings for structural correctness. It returns a
// *ValidationError listing every problem found.
func Validate(cfg *Settings) error {
	ve := &ValidationError{}
	validateFuzzing(cfg, ve)
	validateTarget(cfg, ve)
	validateGarbageCollection(cfg, ve)
	validatePayloadBody(cfg, ve)
	validateStatusPatterns(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateFuzzing(cfg *Settings, ve *ValidationError) {
	if !validModes[cfg.FuzzingMode] {
		ve.Add("fuzzing_mode %q is not supported", cfg.FuzzingMode)
	}
	if cfg.MaxSequenceLength <= 0 {
		ve.Add("max_sequence_length must be > 0")
	}
	if cfg.MaxCombinations <= 0 {
		ve.Add("max_combinations must be > 0")
	}
	if cfg.TimeBudget <= 0 {
		ve.Add("time_budget must be > 0")
	}
	if cfg.FuzzingJobs <= 0 {
		ve.Add("fuzzing_jobs must be > 0")
	}
	if cfg.ProducerTimingDelay < 0 {
		ve.Add("producer_timing_delay must be >= 0")
	}
	for id, d := range cfg.PerResourceDelays {
		if d < 0 {
			ve.Add("per_resource_delays[%s] must be >= 0", id)
		}
	}
	if cfg.Async.WaitForResourceCreation && cfg.Async.PollInterval <= 0 {
		ve.Add("async.poll_interval must be > 0 when waiting for resource creation")
	}
}

func validateTarget(cfg *Settings, ve *ValidationError) {
	if cfg.Target.Host == "" {
		ve.Add("target.host must not be empty")
	}
	if cfg.Target.Port <= 0 || cfg.Target.Port > 65535 {
		ve.Add("target.port must be in 1..65535")
	}
	if cfg.Target.Scheme != "http" && cfg.Target.Scheme != "https" {
		ve.Add("target.scheme must be http or https")
	}
	if cfg.Target.MaxRequestExecutionTime <= 0 {
		ve.Add("target.max_request_execution_time must be > 0")
	}
	if cfg.Target.RequestThrottle < 0 {
		ve.Add("target.request_throttle must be >= 0")
	}
	if cfg.Retry.Interval < 0 {
		ve.Add("retry.interval must be >= 0")
	}
}

func validateGarbageCollection(cfg *Settings, ve *ValidationError) {
	gc := cfg.GarbageCollection
	if gc.DynObjectsCacheSize < 0 {
		ve.Add("garbage_collection.dyn_objects_cache_size must be >= 0")
	}
	if gc.Interval < 0 {
		ve.Add("garbage_collection.interval must be >= 0")
	}
	if gc.MaxAgedObjects <= 0 {
		ve.Add("garbage_collection.max_aged_objects must be > 0")
	}
	if gc.MaxCleanupTime < 0 {
		ve.Add("garbage_collection.max_cleanup_time must be >= 0")
	}
}

func validatePayloadBody(cfg *Settings, ve *ValidationError) {
	pb := cfg.PayloadBody
	if pb.MaxDepth < 0 {
		ve.Add("payload_body.max_depth must be >= 0")
	}
	if pb.MaxCombination < 0 {
		ve.Add("payload_body.max_combination must be >= 0")
	}
	if !validFuzzStrategies[pb.FuzzStrategy] {
		ve.Add("payload_body.fuzz_strategy %q is not supported", pb.FuzzStrategy)
	}
	if !validPropagation[pb.PropagationStrategy] {
		ve.Add("payload_body.propagation_strategy %q is not supported", pb.PropagationStrategy)
	}
}

func validateStatusPatterns(cfg *Settings, ve *ValidationError) {
	for _, list := range [][]string{cfg.CustomBugCodes, cfg.CustomNonBugCodes} {
		for _, p := range list {
			if !validStatusPattern(p) {
				ve.Add("status code pattern %q must be three digits or wildcards (e.g. 500, 5*)", p)
			}
		}
	}
}

// validStatusPattern accepts "500", "5*", "50*" style patterns.
func validStatusPattern(p string) bool {
	if p == "" || len(p) > 3 {
		return false
	}
	digits := p
	if strings.HasSuffix(p, "*") {
		digits = p[:len(p)-1]
	} else if len(p) != 3 {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// MatchStatusPattern reports whether code matches a pattern like "5*" or "404".
func MatchStatusPattern(pattern string, code int) bool {
	s := strconv.Itoa(code)
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimRight(pattern, "*"))
	}
	return s == pattern
}
