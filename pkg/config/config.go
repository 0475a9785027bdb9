package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fuzzing modes understood by the sequence-generation driver.
const (
	ModeBFS                 = "bfs"
	ModeBFSFast             = "bfs-fast"
	ModeBFSCheap            = "bfs-cheap"
	ModeBFSMinimal          = "bfs-minimal"
	ModeRandomWalk          = "random-walk"
	ModeDirectedSmokeTest   = "directed-smoke-test"
	ModeTestAllCombinations = "test-all-combinations"
)

// Settings is the top-level fuzzing configuration.
type Settings struct {
	FuzzingMode             string        `yaml:"fuzzing_mode"`
	MaxSequenceLength       int           `yaml:"max_sequence_length"`
	MaxCombinations         int           `yaml:"max_combinations"`
	TimeBudget              time.Duration `yaml:"time_budget"`
	FuzzingJobs             int           `yaml:"fuzzing_jobs"`
	RandomSeed              int64         `yaml:"random_seed"`
	IgnoreDependencies      bool          `yaml:"ignore_dependencies"`
	AllowAmbiguousProducers bool          `yaml:"allow_ambiguous_producers"`
	RenderPrefixOnce        bool          `yaml:"render_prefix_once"`
	UseRenderingCache       bool          `yaml:"use_rendering_cache"`
	CreateOnce              []string      `yaml:"create_once,omitempty"`
	Checkers                []string      `yaml:"checkers,omitempty"`
	CustomBugCodes          []string      `yaml:"custom_bug_codes,omitempty"`
	CustomNonBugCodes       []string      `yaml:"custom_non_bug_codes,omitempty"`
	DictionaryFile          string        `yaml:"dictionary_file,omitempty"`
	BugBucketsDir           string        `yaml:"bug_buckets_dir"`

	ProducerTimingDelay time.Duration            `yaml:"producer_timing_delay"`
	PerResourceDelays   map[string]time.Duration `yaml:"per_resource_delays,omitempty"`

	Target            TargetConfig            `yaml:"target"`
	Retry             RetryConfig             `yaml:"retry"`
	Async             AsyncConfig             `yaml:"async"`
	GarbageCollection GarbageCollectionConfig `yaml:"garbage_collection"`
	PayloadBody       PayloadBodyConfig       `yaml:"payload_body"`
	Logger            LoggerConfig            `yaml:"logger"`
	Tracer            TracerConfig            `yaml:"tracer"`
}

// TargetConfig describes the service under test.
type TargetConfig struct {
	Host                    string        `yaml:"host"`
	Port                    int           `yaml:"port"`
	Scheme                  string        `yaml:"scheme"` // http, https
	TLSVerify               bool          `yaml:"tls_verify"`
	Proxy                   string        `yaml:"proxy,omitempty"`
	MaxRequestExecutionTime time.Duration `yaml:"max_request_execution_time"`
	RequestThrottle         time.Duration `yaml:"request_throttle"` // 0 = unthrottled
	BreakerMaxFailures      uint32        `yaml:"breaker_max_failures"`
	AuthToken               string        `yaml:"auth_token,omitempty"`
}

// RetryConfig controls resending of requests the target asks us to retry.
type RetryConfig struct {
	StatusCodes []int         `yaml:"status_codes,omitempty"`
	Text        []string      `yaml:"text,omitempty"`
	Interval    time.Duration `yaml:"interval"`
}

// AsyncConfig controls waiting on asynchronous resource creation.
type AsyncConfig struct {
	WaitForResourceCreation bool          `yaml:"wait_for_resource_creation"`
	MaxResourceCreationTime time.Duration `yaml:"max_resource_creation_time"`
	PollInterval            time.Duration `yaml:"poll_interval"`
}

// GarbageCollectionConfig controls cleanup of dynamic objects.
type GarbageCollectionConfig struct {
	DynObjectsCacheSize int           `yaml:"dyn_objects_cache_size"`
	Interval            time.Duration `yaml:"interval"` // 0 disables the background loop
	MaxAgedObjects      int           `yaml:"max_aged_objects"`
	MaxCleanupTime      time.Duration `yaml:"max_cleanup_time"`
}

// PayloadBodyConfig configures the payload body checker and its structural fuzzer.
type PayloadBodyConfig struct {
	Fuzzers             []string `yaml:"fuzzers,omitempty"`
	MaxDepth            int      `yaml:"max_depth"`
	MaxCombination      int      `yaml:"max_combination"`
	ShuffleCombination  bool     `yaml:"shuffle_combination"`
	FuzzStrategy        string   `yaml:"fuzz_strategy"`        // single, path, all
	PropagationStrategy string   `yaml:"propagation_strategy"` // EX, D1, linear_bias
	ShufflePropagation  bool     `yaml:"shuffle_propagation"`
	Bound               int      `yaml:"bound"`
	Seed                int64    `yaml:"seed"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Defaults returns settings with safe defaults.
func Defaults() *Settings {
	return &Settings{
		FuzzingMode:             ModeBFS,
		MaxSequenceLength:       100,
		MaxCombinations:         20,
		TimeBudget:              30 * 24 * time.Hour,
		FuzzingJobs:             1,
		RandomSeed:              12345,
		AllowAmbiguousProducers: true,
		UseRenderingCache:       true,
		Checkers:                []string{},
		BugBucketsDir:           "bug_buckets",
		Target: TargetConfig{
			Host:                    "localhost",
			Port:                    8080,
			Scheme:                  "http",
			TLSVerify:               true,
			MaxRequestExecutionTime: 120 * time.Second,
			BreakerMaxFailures:      20,
		},
		Retry: RetryConfig{
			Interval: 5 * time.Second,
		},
		Async: AsyncConfig{
			WaitForResourceCreation: true,
			MaxResourceCreationTime: 20 * time.Second,
			PollInterval:            time.Second,
		},
		GarbageCollection: GarbageCollectionConfig{
			DynObjectsCacheSize: 10,
			Interval:            30 * time.Second,
			MaxAgedObjects:      1000,
			MaxCleanupTime:      5 * time.Minute,
		},
		PayloadBody: PayloadBodyConfig{
			Fuzzers:             []string{"drop", "select", "type"},
			MaxDepth:            10,
			MaxCombination:      1000,
			ShuffleCombination:  false,
			FuzzStrategy:        "single",
			PropagationStrategy: "EX",
			Bound:               1000,
			Seed:                0,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads settings from a YAML file. A missing file yields defaults.
func Load(path string) (*Settings, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets SEQFUZZ_* environment variables override file values.
func ApplyEnvOverrides(cfg *Settings) {
	if v := os.Getenv("SEQFUZZ_FUZZING_MODE"); v != "" {
		cfg.FuzzingMode = v
	}
	if v := os.Getenv("SEQFUZZ_MAX_SEQUENCE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSequenceLength = n
		}
	}
	if v := os.Getenv("SEQFUZZ_FUZZING_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FuzzingJobs = n
		}
	}
	if v := os.Getenv("SEQFUZZ_TIME_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TimeBudget = d
		}
	}
	if v := os.Getenv("SEQFUZZ_TARGET_HOST"); v != "" {
		cfg.Target.Host = v
	}
	if v := os.Getenv("SEQFUZZ_TARGET_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Target.Port = n
		}
	}
	if v := os.Getenv("SEQFUZZ_AUTH_TOKEN"); v != "" {
		cfg.Target.AuthToken = v
	}
	if v := os.Getenv("SEQFUZZ_CHECKERS"); v != "" {
		cfg.Checkers = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SEQFUZZ_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

// ProducerDelay returns the post-creation delay for a request id.
func (s *Settings) ProducerDelay(requestID string) time.Duration {
	if d, ok := s.PerResourceDelays[requestID]; ok {
		return d
	}
	return s.ProducerTimingDelay
}

// IsQuickMode reports whether each request extends at most one sequence.
func (s *Settings) IsQuickMode() bool {
	return s.FuzzingMode == ModeBFSFast || s.FuzzingMode == ModeBFSMinimal
}

// IsTerminalMode reports whether at most one valid rendering is kept per sequence.
func (s *Settings) IsTerminalMode() bool {
	switch s.FuzzingMode {
	case ModeRandomWalk, ModeBFSCheap, ModeBFSMinimal, ModeDirectedSmokeTest:
		return true
	}
	return false
}

// ThrottlesCheckers reports whether checkers run only on the first invalid rendering.
func (s *Settings) ThrottlesCheckers() bool {
	return s.FuzzingMode == ModeBFSCheap || s.FuzzingMode == ModeBFSMinimal
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
