// Package config loads the environment variables spec.md §6 documents,
// with their defaults, and holds the one piece of process-wide mutable
// state the !bridge commands can change at runtime.
//
// Adapted from internal/config/store.go's Store{mu,path,settings} /
// Get()/Update(fn) shape, but re-pointed from a JSON-file-first desktop
// settings store to an env-var-first service config; the mutex-guarded
// single-field register survives because CONTEXT_STRATEGY is genuinely
// mutable at runtime (spec.md §9 "Global mutable state"), unlike the rest
// of the fields, which are fixed for the process lifetime.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/igoryan-dao/ricochet/internal/policy"
)

// Strategy is the context-persistence strategy, settable via
// CONTEXT_STRATEGY and the !bridge strategy commands (spec.md §4.B, §4.G).
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategySummary  Strategy = "summary"
	StrategyStateful Strategy = "stateful"
	StrategyHybrid   Strategy = "hybrid"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyNone, StrategySummary, StrategyStateful, StrategyHybrid:
		return true
	}
	return false
}

func (s Strategy) wantsSummary() bool {
	return s == StrategySummary || s == StrategyHybrid
}

func (s Strategy) wantsState() bool {
	return s == StrategyStateful || s == StrategyHybrid
}

// Config is the fixed, process-lifetime set of environment-derived
// options.
type Config struct {
	CompanionURL    string
	AdapterPort     int
	SessionCwd      string
	PermissionMode  string
	ModelName       string
	ToolMode        policy.GlobalMode

	LogFormat string // "pretty" | "json"
	LogLevel  string

	ResponseTimeout    time.Duration
	SessionIdleTimeout time.Duration
	MaxSessions        int

	SummaryTriggerPct   int
	SummaryRecompactPct int
	ContextDir          string

	PolicyEngine *policy.Engine
}

// Register holds the one mutable field (CONTEXT_STRATEGY), read fresh at
// every prompt by the Context Manager rather than captured by value in a
// long-lived closure, per spec.md §9.
type Register struct {
	mu       sync.Mutex
	strategy Strategy
}

// NewRegister builds a strategy register seeded from CONTEXT_STRATEGY (or
// "none" if unset/invalid).
func NewRegister(initial Strategy) *Register {
	if !initial.valid() {
		initial = StrategyNone
	}
	return &Register{strategy: initial}
}

// Get returns the current strategy.
func (r *Register) Get() Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// Set changes the current strategy; takes effect at the next prompt.
func (r *Register) Set(s Strategy) {
	if !s.valid() {
		return
	}
	r.mu.Lock()
	r.strategy = s
	r.mu.Unlock()
}

// WantsSummary / WantsState are convenience wrappers used by the context
// manager.
func (s Strategy) WantsSummary() bool { return s.wantsSummary() }
func (s Strategy) WantsState() bool   { return s.wantsState() }

// FileConfig is the optional on-disk supplement loaded via -config, using
// the same field names as the environment variables (lower_snake_case),
// per SPEC_FULL.md A.3. Environment variables always take precedence.
type FileConfig struct {
	CompanionURL        string `yaml:"companion_url" json:"companion_url"`
	AdapterPort         int    `yaml:"adapter_port" json:"adapter_port"`
	SessionCwd          string `yaml:"session_cwd" json:"session_cwd"`
	PermissionMode      string `yaml:"permission_mode" json:"permission_mode"`
	ModelName           string `yaml:"model_name" json:"model_name"`
	ToolMode            string `yaml:"tool_mode" json:"tool_mode"`
	LogFormat           string `yaml:"log_format" json:"log_format"`
	ContextStrategy     string `yaml:"context_strategy" json:"context_strategy"`
	ContextDir          string `yaml:"context_dir" json:"context_dir"`
	SummaryTriggerPct   int    `yaml:"summary_trigger_pct" json:"summary_trigger_pct"`
	SummaryRecompactPct int    `yaml:"summary_recompact_pct" json:"summary_recompact_pct"`
}

// LoadFile reads a YAML or JSON config file, detecting the format by
// extension (".json" vs anything else treated as YAML).
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, err
		}
		return &fc, nil
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Load builds Config from the environment, overlaying an optional
// FileConfig for fields the environment doesn't set, and applying the
// documented defaults last.
func Load(file *FileConfig) *Config {
	cfg := &Config{
		CompanionURL:        firstNonEmpty(os.Getenv("COMPANION_URL"), fileStr(file, func(f *FileConfig) string { return f.CompanionURL }), "http://localhost:8787"),
		SessionCwd:          firstNonEmpty(os.Getenv("SESSION_CWD"), fileStr(file, func(f *FileConfig) string { return f.SessionCwd }), "."),
		PermissionMode:      firstNonEmpty(os.Getenv("PERMISSION_MODE"), fileStr(file, func(f *FileConfig) string { return f.PermissionMode }), "default"),
		ModelName:           firstNonEmpty(os.Getenv("MODEL_NAME"), fileStr(file, func(f *FileConfig) string { return f.ModelName }), "claude-code-companion"),
		LogLevel:            firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		ContextDir:          firstNonEmpty(os.Getenv("CONTEXT_DIR"), fileStr(file, func(f *FileConfig) string { return f.ContextDir }), "."),
	}

	cfg.AdapterPort = firstPositiveInt(envInt("ADAPTER_PORT"), fileInt(file, func(f *FileConfig) int { return f.AdapterPort }), 8080)
	cfg.ResponseTimeout = time.Duration(firstPositiveInt(envInt("RESPONSE_TIMEOUT_MS"), 0, 1_800_000)) * time.Millisecond
	cfg.SessionIdleTimeout = time.Duration(firstPositiveInt(envInt("SESSION_IDLE_TIMEOUT_MS"), 0, 1_800_000)) * time.Millisecond
	cfg.MaxSessions = firstPositiveInt(envInt("MAX_SESSIONS"), 0, 10)
	cfg.SummaryTriggerPct = firstPositiveInt(envInt("SUMMARY_TRIGGER_PCT"), fileInt(file, func(f *FileConfig) int { return f.SummaryTriggerPct }), 40)
	cfg.SummaryRecompactPct = firstPositiveInt(envInt("SUMMARY_RECOMPACT_PCT"), fileInt(file, func(f *FileConfig) int { return f.SummaryRecompactPct }), 20)

	toolMode := strings.ToLower(firstNonEmpty(os.Getenv("TOOL_MODE"), fileStr(file, func(f *FileConfig) string { return f.ToolMode }), "auto"))
	if toolMode != string(policy.ModeAuto) && toolMode != string(policy.ModePassthrough) {
		log.Warn().Str("component", "config").Str("value", toolMode).Msg("unrecognized TOOL_MODE, falling back to auto")
		toolMode = string(policy.ModeAuto)
	}
	globalMode := policy.GlobalMode(toolMode)
	cfg.ToolMode = globalMode

	if raw := toolPolicyOverride(); raw != "" {
		cfg.PolicyEngine = policy.LoadOverride([]byte(raw), globalMode)
	} else {
		cfg.PolicyEngine = policy.NewDefault(globalMode)
	}

	logFormat := strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), fileStr(file, func(f *FileConfig) string { return f.LogFormat })))
	if logFormat != "pretty" && logFormat != "json" && logFormat != "" {
		log.Warn().Str("component", "config").Str("value", logFormat).Msg("unrecognized LOG_FORMAT, falling back to auto-detection")
		logFormat = ""
	}
	cfg.LogFormat = logFormat

	return cfg
}

// FlagOverrides carries the values of any cobra flags the operator set
// explicitly on `bridge serve` (SPEC_FULL.md §A.3: "--port,
// --companion-url, --tool-mode, etc. are available without exporting env
// vars"). Zero values mean "flag not set" and are left untouched by
// ApplyFlagOverrides; cmd/bridge only populates a field here when
// cmd.Flags().Changed reports the flag was actually passed.
type FlagOverrides struct {
	Port           int
	CompanionURL   string
	ToolMode       string
	PermissionMode string
	ModelName      string
	SessionCwd     string
	MaxSessions    int
	LogFormat      string
	LogLevel       string
	ContextDir     string
}

// ApplyFlagOverrides overlays o onto cfg, re-validating ToolMode and
// LogFormat exactly as Load does for their environment-variable
// equivalents. Flags take precedence over everything Load already
// resolved, since they're the most specific, most recently stated intent.
func ApplyFlagOverrides(cfg *Config, o FlagOverrides) {
	if o.Port > 0 {
		cfg.AdapterPort = o.Port
	}
	if o.CompanionURL != "" {
		cfg.CompanionURL = o.CompanionURL
	}
	if o.PermissionMode != "" {
		cfg.PermissionMode = o.PermissionMode
	}
	if o.ModelName != "" {
		cfg.ModelName = o.ModelName
	}
	if o.SessionCwd != "" {
		cfg.SessionCwd = o.SessionCwd
	}
	if o.ContextDir != "" {
		cfg.ContextDir = o.ContextDir
	}
	if o.MaxSessions > 0 {
		cfg.MaxSessions = o.MaxSessions
	}
	if o.ToolMode != "" {
		mode := strings.ToLower(o.ToolMode)
		if mode != string(policy.ModeAuto) && mode != string(policy.ModePassthrough) {
			log.Warn().Str("component", "config").Str("value", o.ToolMode).Msg("unrecognized --tool-mode flag, ignoring")
		} else {
			globalMode := policy.GlobalMode(mode)
			cfg.ToolMode = globalMode
			if raw := toolPolicyOverride(); raw != "" {
				cfg.PolicyEngine = policy.LoadOverride([]byte(raw), globalMode)
			} else {
				cfg.PolicyEngine = policy.NewDefault(globalMode)
			}
		}
	}
	if o.LogFormat != "" {
		lf := strings.ToLower(o.LogFormat)
		if lf != "pretty" && lf != "json" {
			log.Warn().Str("component", "config").Str("value", o.LogFormat).Msg("unrecognized --log-format flag, ignoring")
		} else {
			cfg.LogFormat = lf
		}
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}

// InitialStrategy resolves CONTEXT_STRATEGY (env, then file, then "none"),
// falling back with a logged warning on an unrecognized value.
func InitialStrategy(file *FileConfig) Strategy {
	raw := strings.ToLower(firstNonEmpty(os.Getenv("CONTEXT_STRATEGY"), fileStr(file, func(f *FileConfig) string { return f.ContextStrategy }), "none"))
	s := Strategy(raw)
	if !s.valid() {
		log.Warn().Str("component", "config").Str("value", raw).Msg("unrecognized CONTEXT_STRATEGY, falling back to none")
		return StrategyNone
	}
	return s
}

// toolPolicyOverride returns the raw TOOL_POLICY value, resolving a file
// path to its contents if TOOL_POLICY doesn't look like a JSON array.
func toolPolicyOverride() string {
	raw := strings.TrimSpace(os.Getenv("TOOL_POLICY"))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "[") {
		return raw
	}
	data, err := os.ReadFile(raw)
	if err != nil {
		log.Warn().Str("component", "config").Str("path", raw).Err(err).Msg("could not read TOOL_POLICY file, falling back to defaults")
		return ""
	}
	if strings.HasSuffix(raw, ".yaml") || strings.HasSuffix(raw, ".yml") {
		var rules []policy.Rule
		if err := yaml.Unmarshal(data, &rules); err != nil {
			log.Warn().Str("component", "config").Str("path", raw).Err(err).Msg("malformed TOOL_POLICY file, falling back to defaults")
			return ""
		}
		out, _ := json.Marshal(rules)
		return string(out)
	}
	return string(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func fileStr(f *FileConfig, get func(*FileConfig) string) string {
	if f == nil {
		return ""
	}
	return get(f)
}

func fileInt(f *FileConfig, get func(*FileConfig) int) int {
	if f == nil {
		return 0
	}
	return get(f)
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("component", "config").Str("name", name).Str("value", v).Msg("not an integer, ignoring")
		return 0
	}
	return n
}

func firstPositiveInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
