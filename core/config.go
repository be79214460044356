package core

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// CoreConfig consolidates every configuration knob named in spec §6 into a
// single struct, following the teacher's env-tag + default-tag pattern
// (three-tier precedence: explicit struct field > environment variable >
// default tag). Invalid configuration is fatal at startup (spec §9).
type CoreConfig struct {
	Name string `json:"name" env:"LALO_SERVICE_NAME" default:"lalo-engine"`

	DemoMode     bool `json:"demo_mode" env:"DEMO_MODE" default:"false"`
	AutoApprove  bool `json:"auto_approve" env:"AUTO_APPROVE" default:"false"`

	Inference   InferenceConfig   `json:"inference"`
	Tools       ToolConfig        `json:"tools"`
	Workflow    WorkflowConfig    `json:"workflow"`
	Resilience  ResilienceConfig  `json:"resilience"`
	Logging     LoggingConfig     `json:"logging"`
	Persistence PersistenceConfig `json:"persistence"`

	logger Logger
}

// InferenceConfig configures C1, including the model identifiers used by
// the router/scorer/planner's own internal model calls (spec §6).
type InferenceConfig struct {
	RouterModel  string        `json:"router_model" env:"ROUTER_MODEL" default:"gpt-4o-mini"`
	ScorerModel  string        `json:"scorer_model" env:"SCORER_MODEL" default:"gpt-4o-mini"`
	PlannerModel string        `json:"planner_model" env:"PLANNER_MODEL" default:"gpt-4o"`
	Timeout      time.Duration `json:"timeout" env:"INFERENCE_TIMEOUT" default:"60s"`
	EncryptionKey string       `json:"-" env:"ENCRYPTION_KEY" default:""`
}

// ToolConfig configures C2's per-category tool policies (spec §6).
type ToolConfig struct {
	CodeExecTimeout      time.Duration `json:"code_exec_timeout" env:"CODE_EXEC_TIMEOUT" default:"30s"`
	CodeExecMemoryLimit  string        `json:"code_exec_memory_limit" env:"CODE_EXEC_MEMORY_LIMIT" default:"256m"`
	CodeExecCPUQuota     float64       `json:"code_exec_cpu_quota" env:"CODE_EXEC_CPU_QUOTA" default:"1.0"`
	FileToolRoot         string        `json:"file_tool_root" env:"FILE_TOOL_ROOT" default:"/var/lib/lalo/sandbox"`
	FileToolMaxBytes     int64         `json:"file_tool_max_bytes" env:"FILE_TOOL_MAX_BYTES" default:"10485760"`
	DBToolRowLimit       int           `json:"db_tool_row_limit" env:"DB_TOOL_ROW_LIMIT" default:"1000"`
	DBToolTimeout        time.Duration `json:"db_tool_timeout" env:"DB_TOOL_TIMEOUT" default:"10s"`
	SearchProvider       string        `json:"search_provider" env:"SEARCH_PROVIDER" default:"duckduckgo"`
	VectorBackend        string        `json:"vector_backend" env:"VECTOR_BACKEND" default:"typesense"`
	ImageStoragePath     string        `json:"image_storage_path" env:"IMAGE_STORAGE_PATH" default:"./data/images"`
	WorkerPoolSize       int           `json:"worker_pool_size" env:"TOOL_WORKER_POOL_SIZE" default:"8"`
	WorkerQueueDepth     int           `json:"worker_queue_depth" env:"TOOL_WORKER_QUEUE_DEPTH" default:"64"`
}

const (
	MaxCodeExecTimeout = 300 * time.Second
)

// WorkflowConfig configures C7 (spec §4.7, §5).
type WorkflowConfig struct {
	InterpretationAutoApprove float64       `json:"interpretation_auto_approve" env:"WORKFLOW_INTERPRET_AUTO_APPROVE" default:"0.75"`
	PlanAutoApprove           float64       `json:"plan_auto_approve" env:"WORKFLOW_PLAN_AUTO_APPROVE" default:"0.85"`
	ExecutingTimeout          time.Duration `json:"executing_timeout" env:"WORKFLOW_EXECUTING_TIMEOUT" default:"5m"`
	TaskQueue                 string        `json:"task_queue" env:"WORKFLOW_TASK_QUEUE" default:"lalo-workflow"`
}

// ResilienceConfig configures circuit breakers and retry (spec §5.6).
type ResilienceConfig struct {
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold" env:"CB_THRESHOLD" default:"5"`
	CircuitBreakerTimeout   time.Duration `json:"circuit_breaker_timeout" env:"CB_TIMEOUT" default:"30s"`
	HalfOpenRequests        int           `json:"half_open_requests" env:"CB_HALF_OPEN_REQUESTS" default:"3"`
	MaxFallbackAttempts     int           `json:"max_fallback_attempts" env:"MAX_FALLBACK_ATTEMPTS" default:"3"`
	MaxInFlightPerPrincipal int           `json:"max_in_flight_per_principal" env:"MAX_IN_FLIGHT_PER_PRINCIPAL" default:"10"`
}

// LoggingConfig configures the ambient ProductionLogger.
type LoggingConfig struct {
	Level              string `json:"level" env:"LALO_LOG_LEVEL" default:"INFO"`
	Format             string `json:"format" env:"LALO_LOG_FORMAT" default:""`
	Output             string `json:"output" env:"LALO_LOG_OUTPUT" default:"stdout"`
	ErrorLogsPerSecond int    `json:"error_logs_per_second" env:"LALO_ERROR_LOG_RATE" default:"20"`
}

// PersistenceConfig configures the store package's Postgres/Redis backends.
type PersistenceConfig struct {
	PostgresDSN string `json:"-" env:"LALO_POSTGRES_DSN" default:"postgres://localhost:5432/lalo?sslmode=disable"`
	RedisAddr   string `json:"redis_addr" env:"LALO_REDIS_ADDR" default:"localhost:6379"`
	RedisDB     int    `json:"redis_db" env:"LALO_REDIS_DB" default:"0"`
}

// Option applies an override to a CoreConfig after defaults/env have been
// loaded, following the teacher's functional-options idiom.
type Option func(*CoreConfig)

// WithLogger overrides the default ProductionLogger.
func WithLogger(l Logger) Option {
	return func(c *CoreConfig) { c.logger = l }
}

// WithName overrides the service name.
func WithName(name string) Option {
	return func(c *CoreConfig) { c.Name = name }
}

// WithDemoMode forces demo mode on or off, bypassing auth per spec §6.
func WithDemoMode(v bool) Option {
	return func(c *CoreConfig) { c.DemoMode = v }
}

// DefaultConfig loads a CoreConfig from environment variables, falling back
// to struct `default` tags, then applies opts. This is the three-tier
// precedence the teacher's AIConfig/OrchestratorConfig constructors use.
func DefaultConfig(opts ...Option) (*CoreConfig, error) {
	cfg := &CoreConfig{}
	if err := populateFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Logger returns the configured logger, defaulting to NoOpLogger.
func (c *CoreConfig) Logger() Logger {
	if c.logger == nil {
		return &NoOpLogger{}
	}
	return c.logger
}

// Validate enforces the cross-field invariants spec §6/§9 call for.
func (c *CoreConfig) Validate() error {
	if c.Tools.CodeExecTimeout > MaxCodeExecTimeout {
		return fmt.Errorf("tools.code_exec_timeout %s exceeds max %s", c.Tools.CodeExecTimeout, MaxCodeExecTimeout)
	}
	if c.Tools.FileToolRoot == "" {
		return fmt.Errorf("tools.file_tool_root must not be empty")
	}
	if c.Workflow.InterpretationAutoApprove < 0 || c.Workflow.InterpretationAutoApprove > 1 {
		return fmt.Errorf("workflow.interpretation_auto_approve must be in [0,1]")
	}
	if c.Workflow.PlanAutoApprove < 0 || c.Workflow.PlanAutoApprove > 1 {
		return fmt.Errorf("workflow.plan_auto_approve must be in [0,1]")
	}
	if c.Resilience.MaxFallbackAttempts < 1 {
		return fmt.Errorf("resilience.max_fallback_attempts must be >= 1")
	}
	return nil
}

// populateFromEnv walks a struct, applying `env`/`default` tags to each
// field, recursing into nested structs. Mirrors the teacher's
// env-tag-driven config loading in spirit, generalized with reflection so
// every nested *Config section shares one implementation.
func populateFromEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)

		if fv.Kind() == reflect.Struct && field.Tag.Get("env") == "" {
			if err := populateFromEnv(fv); err != nil {
				return err
			}
			continue
		}

		envKey := field.Tag.Get("env")
		raw, present := "", false
		if envKey != "" {
			raw, present = os.LookupEnv(envKey)
		}
		if !present {
			raw = field.Tag.Get("default")
			if raw == "" {
				continue
			}
		}

		if err := setFieldValue(fv, raw); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

func setFieldValue(fv reflect.Value, raw string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if fv.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			fv.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	default:
		return fmt.Errorf("unsupported config field kind %s", fv.Kind())
	}
	return nil
}

// LoadConfigFile layers YAML overrides over the env/default-derived
// config (spec §9's "Configuration objects", supplemented with the
// corpus's gopkg.in/yaml.v3 dependency for file-based overrides). Callers
// typically call DefaultConfig first, then LoadConfigFile to merge in an
// operator-provided file; every field the file sets replaces the value
// DefaultConfig derived, including values taken from the environment. A
// missing file is not an error.
func LoadConfigFile(path string, cfg *CoreConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return decodeYAMLInto(data, cfg)
}

// isLikelyPath reports whether p looks like a file path: it contains a path
// separator or ends in .yaml or .yml. Nothing in this module calls it.
func isLikelyPath(p string) bool {
	return strings.Contains(p, string(os.PathSeparator)) || strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml")
}
