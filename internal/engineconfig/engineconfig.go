// Package engineconfig loads the handful of settings that govern the
// metadata engine's runtime behaviour: the iteration cap, the disk cache
// directory, the provides check, the RNG seed and the trace toggle, each
// overridable by an environment variable, mirroring
// how the repository loader layers environment overrides on top of a
// config file default.
package engineconfig

import (
	"strconv"

	"github.com/spf13/viper"
)

// EngineKey describes one configurable engine setting: the viper key it
// lives under, the environment variable that overrides it, its default
// value, and an optional validator run after loading.
type EngineKey struct {
	Key      string
	EnvVar   string
	Default  any
	Validate func(v *viper.Viper) error
}

// Keys is the full set of settings the engine reads through Load. Order
// matches how they're documented: iteration cap first, then cache
// location, then the feature flags that toggle optional behaviour.
var Keys = []EngineKey{
	{Key: "max_metadata_iterations", EnvVar: "BW_MAX_METADATA_ITERATIONS", Default: 1000, Validate: positiveInt("max_metadata_iterations")},
	{Key: "metadata_cache_dir", EnvVar: "BW_METADATA_CACHE_DIR", Default: ""},
	{Key: "verify_reactor_provides", EnvVar: "BW_VERIFY_REACTOR_PROVIDES", Default: false},
	{Key: "metadata_rand_seed", EnvVar: "BW_METADATA_RAND_SEED", Default: int64(0)},
	{Key: "trace_enabled", EnvVar: "BW_TRACE_ENABLED", Default: false},
}

func positiveInt(key string) func(v *viper.Viper) error {
	return func(v *viper.Viper) error {
		if v.GetInt(key) <= 0 {
			return &InvalidValueError{Key: key, Value: strconv.Itoa(v.GetInt(key)), Reason: "must be a positive integer"}
		}
		return nil
	}
}

// InvalidValueError is raised when a loaded setting fails its validator.
type InvalidValueError struct {
	Key    string
	Value  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return "invalid value for " + e.Key + " (" + e.Value + "): " + e.Reason
}

// Config is the fully resolved, typed view of the engine's settings.
type Config struct {
	MaxIterations         int
	CacheDir              string
	VerifyReactorProvides bool
	RandSeed              int64
	TraceEnabled          bool
}

// Load binds Keys to their environment variables and defaults on a fresh
// viper instance, validates the result, and returns the typed Config.
// Callers that already have a *viper.Viper (e.g. one also driving
// unrelated application settings) should use LoadFrom instead.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom does the same as Load but reuses a caller-supplied viper
// instance, so engine settings can live alongside a larger application's
// own configuration.
func LoadFrom(v *viper.Viper) (*Config, error) {
	for _, k := range Keys {
		v.SetDefault(k.Key, k.Default)
		if err := v.BindEnv(k.Key, k.EnvVar); err != nil {
			return nil, err
		}
	}
	for _, k := range Keys {
		if k.Validate == nil {
			continue
		}
		if err := k.Validate(v); err != nil {
			return nil, err
		}
	}

	return &Config{
		MaxIterations:         v.GetInt("max_metadata_iterations"),
		CacheDir:              v.GetString("metadata_cache_dir"),
		VerifyReactorProvides: v.GetBool("verify_reactor_provides"),
		RandSeed:              v.GetInt64("metadata_rand_seed"),
		TraceEnabled:          v.GetBool("trace_enabled"),
	}, nil
}
