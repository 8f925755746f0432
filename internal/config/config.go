// Package config holds the service configuration and turns it into the
// schema and grading policy the service runs with.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/godilite/grade-predictor/internal/policy"
	"github.com/godilite/grade-predictor/internal/schema"
	"go.uber.org/zap"
)

// Model sources.
const (
	SourceFile  = "file"
	SourceSQL   = "sql"
	SourceRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	AppEnv   string `koanf:"app_env"`
	LogLevel string `koanf:"log_level"`

	GRPCPort       int    `koanf:"grpc_port"`
	GRPCReflection bool   `koanf:"grpc_reflection"`
	HTTPAddr       string `koanf:"http_addr"`
	// CORSOrigins lists the browser origins allowed to call the HTTP API.
	CORSOrigins []string `koanf:"cors_origins"`

	// ModelSource selects where the artifact is read from: file, sql or redis.
	ModelSource string `koanf:"model_source"`
	ModelPath   string `koanf:"model_path"`
	ModelName   string `koanf:"model_name"`
	ModelKey    string `koanf:"model_key"`
	// ModelLoadTimeout bounds one artifact fetch, at startup or on reload.
	ModelLoadTimeout time.Duration `koanf:"model_load_timeout"`

	DBDriver string `koanf:"db_driver"`
	DBDSN    string `koanf:"db_dsn"`

	RedisAddr        string        `koanf:"redis_addr"`
	RedisPassword    string        `koanf:"redis_password"`
	RedisDB          int           `koanf:"redis_db"`
	RedisDialTimeout time.Duration `koanf:"redis_dial_timeout"`

	BatchWorkers            int      `koanf:"batch_workers"`
	BatchMedianFill         bool     `koanf:"batch_median_fill"`
	BatchPassthroughColumns []string `koanf:"batch_passthrough_columns"`

	// InternalMax overrides the internal scale taken from the feature
	// ranges. Zero means use the features.
	InternalMax   float64 `koanf:"internal_max"`
	ThresholdLow  float64 `koanf:"threshold_low"`
	ThresholdMid  float64 `koanf:"threshold_mid"`
	ThresholdHigh float64 `koanf:"threshold_high"`
	CapLow        float64 `koanf:"cap_low"`
	CapMid        float64 `koanf:"cap_mid"`
	CapHigh       float64 `koanf:"cap_high"`
	MinAttendance float64 `koanf:"min_attendance"`
	MinTask       float64 `koanf:"min_task"`

	// GradeBands wins over BandPreset when set.
	GradeBands []policy.Band `koanf:"grade_bands"`
	BandPreset string        `koanf:"band_preset"`

	Features []schema.Feature `koanf:"features"`
}

// DefaultFeatures is the student dataset the reference model was trained on.
func DefaultFeatures() []schema.Feature {
	return []schema.Feature{
		{Key: "Persentase_Kehadiran", Label: "Attendance", Unit: "%", Min: 0, Max: 100, Role: schema.RoleAttendance},
		{Key: "Nilai_Internal_1", Label: "Internal assessment 1", Min: 0, Max: 40, Role: schema.RoleInternal1},
		{Key: "Nilai_Internal_2", Label: "Internal assessment 2", Min: 0, Max: 40, Role: schema.RoleInternal2},
		{Key: "Skor_Tugas", Label: "Assignment score", Min: 0, Max: 100, Role: schema.RoleTask},
		{Key: "Jam_Belajar_Harian", Label: "Daily study hours", Unit: "h", Min: 0, Max: 24, Role: schema.RoleStudyTime, Optional: true},
	}
}

// New returns the defaults.
func New() *Config {
	p := policy.DefaultConfig()
	return &Config{
		AppEnv:   "development",
		LogLevel: "info",

		GRPCPort:    50051,
		HTTPAddr:    ":8080",
		CORSOrigins: []string{"http://localhost:3000"},

		ModelSource:      SourceFile,
		ModelPath:        "./models/academic_predictor.json",
		ModelName:        "academic_predictor",
		ModelKey:         "grader:model:academic_predictor",
		ModelLoadTimeout: 30 * time.Second,

		DBDriver:         "sqlite3",
		DBDSN:            "./data/models.db",
		RedisAddr:        "localhost:6379",
		RedisDialTimeout: 5 * time.Second,

		BatchWorkers:            4,
		BatchPassthroughColumns: []string{"ID_Siswa"},

		ThresholdLow:  p.Thresholds.Low,
		ThresholdMid:  p.Thresholds.Mid,
		ThresholdHigh: p.Thresholds.High,
		CapLow:        p.Caps.Low,
		CapMid:        p.Caps.Mid,
		CapHigh:       p.Caps.High,
		MinAttendance: p.MinAttendance,
		MinTask:       p.MinTask,
		BandPreset:    "default",

		Features: DefaultFeatures(),
	}
}

// Validate checks the settings that do not need the schema.
func (c *Config) Validate() error {
	switch c.ModelSource {
	case SourceFile:
		if c.ModelPath == "" {
			return fmt.Errorf("%w: model_path is required for the file source", ErrInvalidConfig)
		}
	case SourceSQL:
		if c.DBDSN == "" || c.ModelName == "" {
			return fmt.Errorf("%w: db_dsn and model_name are required for the sql source", ErrInvalidConfig)
		}
	case SourceRedis:
		if c.RedisAddr == "" || c.ModelKey == "" {
			return fmt.Errorf("%w: redis_addr and model_key are required for the redis source", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown model_source %q", ErrInvalidConfig, c.ModelSource)
	}

	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("%w: grpc_port %d out of range", ErrInvalidConfig, c.GRPCPort)
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			return fmt.Errorf("%w: http_addr %q: %v", ErrInvalidConfig, c.HTTPAddr, err)
		}
	}
	if c.ModelLoadTimeout <= 0 || c.RedisDialTimeout <= 0 {
		return fmt.Errorf("%w: model_load_timeout and redis_dial_timeout must be positive", ErrInvalidConfig)
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("%w: batch_workers must be at least 1", ErrInvalidConfig)
	}
	if len(c.GradeBands) == 0 {
		if _, ok := policy.Preset(c.BandPreset); !ok {
			return fmt.Errorf("%w: unknown band_preset %q", ErrInvalidConfig, c.BandPreset)
		}
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Schema builds the feature schema.
func (c *Config) Schema() (*schema.Schema, error) {
	s, err := schema.New(c.Features)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return s, nil
}

// Policy builds the grading policy for s. The internal and task scales come
// from the schema unless InternalMax is set.
func (c *Config) Policy(s *schema.Schema) (*policy.Policy, error) {
	bands := c.GradeBands
	if len(bands) == 0 {
		bands, _ = policy.Preset(c.BandPreset)
	}

	internalMax := c.InternalMax
	if internalMax == 0 {
		internalMax = s.InternalMax()
	}
	if internalMax < s.InternalMax() {
		return nil, fmt.Errorf("%w: internal_max %v is below the internal feature maximum %v", ErrInvalidConfig, internalMax, s.InternalMax())
	}
	task, _ := s.ByRole(schema.RoleTask)

	p, err := policy.New(policy.Config{
		InternalMax:   internalMax,
		Thresholds:    policy.Thresholds{Low: c.ThresholdLow, Mid: c.ThresholdMid, High: c.ThresholdHigh},
		Caps:          policy.Caps{Low: c.CapLow, Mid: c.CapMid, High: c.CapHigh},
		MinAttendance: c.MinAttendance,
		MinTask:       c.MinTask,
		TaskMax:       task.Max,
		Bands:         bands,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}
