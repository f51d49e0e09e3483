package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the HTTP address serving websocket telemetry and health checks.
	DefaultAddr = ":43127"
	// DefaultGRPCAddr is the address of the gRPC telemetry stream. Empty disables it.
	DefaultGRPCAddr = ":43128"
	// DefaultTickHz is the fixed physics rate.
	DefaultTickHz = 50.0
	// DefaultTelemetryHz bounds how often snapshots are published to subscribers.
	DefaultTelemetryHz = 20.0

	// DefaultRadius is the sphere radius in world units.
	DefaultRadius = 0.5
	// DefaultMass is the sphere mass.
	DefaultMass = 1.0
	// DefaultFriction damps tangential velocity on contact.
	DefaultFriction = 0.3
	// DefaultAngularFriction scales the rotational damping torque.
	DefaultAngularFriction = 0.6
	// DefaultRestitution is the share of normal velocity reflected on contact.
	DefaultRestitution = 0.9
	// DefaultMaxSpeed caps the linear speed during integration. Zero disables it.
	DefaultMaxSpeed = 50.0

	// DefaultMaxTraceDistance bounds a single sphere trace.
	DefaultMaxTraceDistance = 10.0
	// DefaultMinStepDistance is the contact threshold.
	DefaultMinStepDistance = 0.01
	// DefaultMaxIterations caps trace iterations.
	DefaultMaxIterations = 10
	// DefaultStaticGravityModifier scales the resting correction force.
	DefaultStaticGravityModifier = 1.2
	// DefaultBuriedGravityModifier scales the unburial escape force.
	DefaultBuriedGravityModifier = 3.0
	// DefaultNormalEpsilon is the finite difference step for surface normals.
	DefaultNormalEpsilon = 0.01
	// DefaultSceneBlend is the smooth-min sharpness of the scene.
	DefaultSceneBlend = 1.0

	// DefaultReplayMaxRuns bounds how many run bundles stay under the replay directory.
	DefaultReplayMaxRuns = 20
	// DefaultReplayMaxAge prunes bundles older than this. Zero keeps them regardless of age.
	DefaultReplayMaxAge = 7 * 24 * time.Hour

	// DefaultLogLevel controls verbosity for logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "mover.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogCompress toggles zstd compression for rotated log files.
	DefaultLogCompress = true
)

var (
	// DefaultGravity is the world gravity vector.
	DefaultGravity = [3]float64{0, -9.8, 0}
	// DefaultSpawn is where the body starts, between lattice boxes above the floor.
	DefaultSpawn = [3]float64{6, 2, 6}
)

// Config captures all runtime tunables for the mover host.
type Config struct {
	Address     string
	GRPCAddress string
	// GRPCSharedSecret, when set, must accompany every telemetry stream.
	GRPCSharedSecret string
	// AdminToken guards operational endpoints. Empty disables them.
	AdminToken  string
	TickHz      float64
	TelemetryHz float64
	Gravity     [3]float64
	ReplayDir   string
	Replay      ReplayRetention
	Body        BodyConfig
	Tuning      TuningConfig
	SceneBlend  float64
	Logging     LoggingConfig
}

// ReplayRetention bounds the run bundles kept on disk.
type ReplayRetention struct {
	MaxRuns int
	MaxAge  time.Duration
}

// BodyConfig describes the simulated sphere.
type BodyConfig struct {
	Spawn           [3]float64
	Radius          float64
	Mass            float64
	Friction        float64
	AngularFriction float64
	Restitution     float64
	MaxSpeed        float64
}

// TuningConfig holds the global contact resolver constants.
type TuningConfig struct {
	MaxTraceDistance      float64
	MinStepDistance       float64
	MaxIterations         int
	StaticGravityModifier float64
	BuriedGravityModifier float64
	NormalEpsilon         float64
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// envReader collects every invalid override so Load can report them together.
type envReader struct {
	problems []string
}

// Load reads the configuration from environment variables, applying defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	r := &envReader{}
	cfg := &Config{
		Address:          getString("MOVER_ADDR", DefaultAddr),
		GRPCAddress:      getRawString("MOVER_GRPC_ADDR", DefaultGRPCAddr),
		GRPCSharedSecret: strings.TrimSpace(os.Getenv("MOVER_GRPC_SHARED_SECRET")),
		AdminToken:       strings.TrimSpace(os.Getenv("MOVER_ADMIN_TOKEN")),
		TickHz:           r.float("MOVER_TICK_HZ", DefaultTickHz, positive),
		TelemetryHz:      r.float("MOVER_TELEMETRY_HZ", DefaultTelemetryHz, positive),
		Gravity:          r.vector("MOVER_GRAVITY", DefaultGravity),
		ReplayDir:        strings.TrimSpace(os.Getenv("MOVER_REPLAY_DIR")),
		Replay: ReplayRetention{
			MaxRuns: r.integer("MOVER_REPLAY_MAX_RUNS", DefaultReplayMaxRuns, 0),
			MaxAge:  r.duration("MOVER_REPLAY_MAX_AGE", DefaultReplayMaxAge),
		},
		Body: BodyConfig{
			Spawn:           r.vector("MOVER_SPAWN", DefaultSpawn),
			Radius:          r.float("MOVER_RADIUS", DefaultRadius, positive),
			Mass:            r.float("MOVER_MASS", DefaultMass, positive),
			Friction:        r.float("MOVER_FRICTION", DefaultFriction, unit),
			AngularFriction: r.float("MOVER_ANGULAR_FRICTION", DefaultAngularFriction, unit),
			Restitution:     r.float("MOVER_RESTITUTION", DefaultRestitution, unit),
			MaxSpeed:        r.float("MOVER_MAX_SPEED", DefaultMaxSpeed, nonNegative),
		},
		Tuning: TuningConfig{
			MaxTraceDistance:      r.float("MOVER_MAX_TRACE_DISTANCE", DefaultMaxTraceDistance, positive),
			MinStepDistance:       r.float("MOVER_MIN_STEP_DISTANCE", DefaultMinStepDistance, positive),
			MaxIterations:         r.integer("MOVER_MAX_ITERATIONS", DefaultMaxIterations, 1),
			StaticGravityModifier: r.float("MOVER_STATIC_GRAVITY_MODIFIER", DefaultStaticGravityModifier, nonNegative),
			BuriedGravityModifier: r.float("MOVER_BURIED_GRAVITY_MODIFIER", DefaultBuriedGravityModifier, nonNegative),
			NormalEpsilon:         r.float("MOVER_NORMAL_EPSILON", DefaultNormalEpsilon, positive),
		},
		SceneBlend: r.float("MOVER_SCENE_BLEND", DefaultSceneBlend, positive),
		Logging: LoggingConfig{
			Level:      getString("MOVER_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("MOVER_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  r.integer("MOVER_LOG_MAX_SIZE_MB", DefaultLogMaxSizeMB, 1),
			MaxBackups: r.integer("MOVER_LOG_MAX_BACKUPS", DefaultLogMaxBackups, 0),
			Compress:   r.boolean("MOVER_LOG_COMPRESS", DefaultLogCompress),
		},
	}

	if cfg.Tuning.MinStepDistance >= cfg.Tuning.MaxTraceDistance {
		r.problems = append(r.problems, "MOVER_MIN_STEP_DISTANCE must be below MOVER_MAX_TRACE_DISTANCE")
	}

	if len(r.problems) > 0 {
		return nil, errors.New(strings.Join(r.problems, "; "))
	}
	return cfg, nil
}

type constraint struct {
	describe string
	check    func(float64) bool
}

var (
	positive    = constraint{"a positive number", func(v float64) bool { return v > 0 }}
	nonNegative = constraint{"a non-negative number", func(v float64) bool { return v >= 0 }}
	unit        = constraint{"a number within [0,1]", func(v float64) bool { return v >= 0 && v <= 1 }}
)

func (r *envReader) float(key string, fallback float64, c constraint) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || !c.check(value) {
		r.problems = append(r.problems, fmt.Sprintf("%s must be %s, got %q", key, c.describe, raw))
		return fallback
	}
	return value
}

func (r *envReader) integer(key string, fallback, floor int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < floor {
		r.problems = append(r.problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, floor, raw))
		return fallback
	}
	return value
}

func (r *envReader) boolean(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return fallback
	}
	return value
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 {
		r.problems = append(r.problems, fmt.Sprintf("%s must be a non-negative duration, got %q", key, raw))
		return fallback
	}
	return value
}

// vector parses "x,y,z".
func (r *envReader) vector(key string, fallback [3]float64) [3]float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		r.problems = append(r.problems, fmt.Sprintf("%s must have three comma separated components, got %q", key, raw))
		return fallback
	}
	var out [3]float64
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			r.problems = append(r.problems, fmt.Sprintf("%s component %d must be a finite number, got %q", key, i, part))
			return fallback
		}
		out[i] = value
	}
	return out
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// getRawString distinguishes an unset variable from one explicitly set empty.
func getRawString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(value)
}
