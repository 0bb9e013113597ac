// Package config loads process-wide runtime configuration for every
// findcore binary from one viper-backed source: flags registered on each
// cmd/ root command, bound to viper keys, overridable by FINDCORE_* env
// vars. Adapted from joestump-claude-ops's cmd/claudeops/main.go flag/env
// binding pattern (internal/config.Load reading viper.Get* after the root
// command registers and binds flags).
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the shared viper environment prefix for every findcore binary.
const EnvPrefix = "FINDCORE"

// HealthSourceMode selects the fallback order the UI/query path uses when
// fetching health, per spec.md §6.
type HealthSourceMode string

const (
	HealthSourceLegacy          HealthSourceMode = "legacy"
	HealthSourceAggregatorOnly  HealthSourceMode = "aggregator_primary"
	HealthSourceAggregatorFirst HealthSourceMode = "aggregator_preferred" // default
)

// Config holds the runtime paths and identifiers spec.md §6 names as
// recognized environment variables, shared by every cmd/ binary (findhostd
// and every worker) via one loading path.
type Config struct {
	RuntimeDir  string
	SocketDir   string
	PidDir      string
	InstanceID  string
	DataDir     string

	HealthSourceMode HealthSourceMode

	OnlineRankerBootstrapDir string
	ModelsDir                string
}

// RegisterFlags registers the shared flag set on a cmd/ root command and
// binds each to a viper key, mirroring claude-ops's bindFlag helper. Call
// once per binary before cmd.Execute().
func RegisterFlags(f *pflag.FlagSet, appName string) {
	defaultRuntime := filepath.Join(os.TempDir(), appName+"-"+currentUID())
	defaultData := defaultDataDir(appName)

	f.String("runtime-dir", defaultRuntime, "directory holding worker unix sockets")
	f.String("socket-dir", "", "overrides runtime-dir for socket placement only (defaults to runtime-dir)")
	f.String("pid-dir", "", "directory holding worker pid files (defaults to runtime-dir)")
	f.String("instance-id", defaultInstanceID(), "identifier embedded in health snapshots")
	f.String("data-dir", defaultData, "per-user data directory (index.db, models/, settings.json)")
	f.String("health-source-mode", string(HealthSourceAggregatorFirst), "legacy|aggregator_primary|aggregator_preferred")
	f.String("online-ranker-bootstrap-dir", "", "bootstrap source for a precompiled model seeded on first init")
	f.String("models-dir", "", "defaults to <data-dir>/models")

	bind := func(viperKey, flagName string) { _ = viper.BindPFlag(viperKey, f.Lookup(flagName)) }
	bind("runtime_dir", "runtime-dir")
	bind("socket_dir", "socket-dir")
	bind("pid_dir", "pid-dir")
	bind("instance_id", "instance-id")
	bind("data_dir", "data-dir")
	bind("health_source_mode", "health-source-mode")
	bind("online_ranker_bootstrap_dir", "online-ranker-bootstrap-dir")
	bind("models_dir", "models-dir")

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()
}

// Load reads the bound viper keys into a Config, applying the
// socket-dir/pid-dir/models-dir "defaults to runtime/data dir" fallbacks
// spec.md §6 describes.
func Load() Config {
	runtimeDir := viper.GetString("runtime_dir")
	dataDir := viper.GetString("data_dir")

	socketDir := viper.GetString("socket_dir")
	if socketDir == "" {
		socketDir = runtimeDir
	}
	pidDir := viper.GetString("pid_dir")
	if pidDir == "" {
		pidDir = runtimeDir
	}
	modelsDir := viper.GetString("models_dir")
	if modelsDir == "" {
		modelsDir = filepath.Join(dataDir, "models")
	}

	return Config{
		RuntimeDir:               runtimeDir,
		SocketDir:                socketDir,
		PidDir:                   pidDir,
		InstanceID:               viper.GetString("instance_id"),
		DataDir:                  dataDir,
		HealthSourceMode:         HealthSourceMode(viper.GetString("health_source_mode")),
		OnlineRankerBootstrapDir: viper.GetString("online_ranker_bootstrap_dir"),
		ModelsDir:                modelsDir,
	}
}

func defaultDataDir(appName string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "."+appName)
	}
	return filepath.Join(os.TempDir(), appName+"-data")
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "findcore-" + currentUID()
	}
	return host
}

func currentUID() string {
	return strconv.Itoa(os.Getuid())
}
