package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/flowkit/logger"
)

// maxEnvKeyParts bounds the nesting variants tried for one variable.
const maxEnvKeyParts = 12

// FileSystem abstracts the file operations the loader performs.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem implements FileSystem on the local disk.
type RealFileSystem struct{}

func (RealFileSystem) Exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func (RealFileSystem) LoadEnv(p string) error {
	return godotenv.Load(p)
}

// Resolver finds config and env files for a service.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved config and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles returns explicit paths when given, otherwise the first
// candidate that exists.
func (r *Resolver) ResolveFiles(serviceName string, lc LoaderConfig) ResolvedFiles {
	files := ResolvedFiles{ConfigFile: lc.ConfigFile, EnvFile: lc.EnvFile}
	if files.ConfigFile == "" {
		files.ConfigFile = r.first(candidates(serviceName, "config.yml"))
	}
	if files.EnvFile == "" {
		files.EnvFile = r.first(append(candidates(serviceName, ".env."+serviceName), candidates(serviceName, ".env")...))
	}
	return files
}

func (r *Resolver) first(paths []string) string {
	for _, p := range paths {
		if r.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

// candidates lists where a service file may live, nearest first.
func candidates(serviceName, file string) []string {
	dirs := []string{"cmd/" + serviceName, "config/" + serviceName, "config", ""}
	out := make([]string, 0, len(dirs)*3)
	for _, dir := range dirs {
		out = append(out, "./"+path.Join(dir, file))
		for _, up := range []string{"..", "../.."} {
			out = append(out, path.Join(up, dir, file))
		}
	}
	return out
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string
	EnvFile    string
	EnvPrefix  string
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(p string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = p }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(p string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = p }
}

// WithEnvPrefix only binds environment variables carrying the prefix,
// which is stripped before matching config keys.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = strings.ToUpper(prefix) }
}

// LoadConfig loads configuration for a service into cfg.
func LoadConfig(serviceName string, cfg any, opts ...LoaderOption) error {
	lc := LoaderConfig{FileSystem: RealFileSystem{}}
	for _, opt := range opts {
		opt(&lc)
	}

	files := (&Resolver{FileSystem: lc.FileSystem}).ResolveFiles(serviceName, lc)
	log := logger.Get("config")

	v := viper.New()
	if files.ConfigFile != "" && lc.FileSystem.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", files.ConfigFile, err)
		}
		log.Debug("config file loaded", logger.Fields("file", files.ConfigFile))
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			log.Warn("failed to load env file", logger.OpError("load_env", err))
		}
	}
	bindEnv(v, lc.EnvPrefix, os.Environ())

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config for service %s: %w", serviceName, err)
	}
	return nil
}

// Load loads, defaults and validates a Config.
func Load[T Config](serviceName string, cfg T, opts ...LoaderOption) (T, error) {
	if err := LoadConfig(serviceName, cfg, opts...); err != nil {
		return cfg, err
	}
	if cfg.GetServiceConfig().Name == "" {
		cfg.GetServiceConfig().Name = serviceName
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// bindEnv overrides config keys from environment entries. An entry binds to
// the key it spells when that key, or its parent section, is already
// present; other entries are ignored so unrelated variables never leak into
// map-typed sections.
func bindEnv(v *viper.Viper, prefix string, environ []string) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if prefix != "" {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			name = strings.TrimPrefix(name, prefix)
		}
		if key, ok := matchKey(v, envKeyVariants(name)); ok {
			v.Set(key, value)
		}
	}
}

func matchKey(v *viper.Viper, variants []string) (string, bool) {
	for _, k := range variants {
		if v.IsSet(k) {
			return k, true
		}
	}
	best, depth := "", -1
	for _, k := range variants {
		i := strings.LastIndex(k, ".")
		if i > depth && v.IsSet(k[:i]) {
			best, depth = k, i
		}
	}
	return best, depth > 0
}

// envKeyVariants lists every dotted key an upper snake case name may spell.
//
//	STAGES_SPLIT_BOUNDED_CAPACITY -> stages_split_bounded_capacity, ..., stages.split.bounded_capacity, ...
func envKeyVariants(name string) []string {
	parts := strings.Split(strings.ToLower(strings.Trim(name, "_")), "_")
	if len(parts) == 0 || parts[0] == "" {
		return nil
	}
	if len(parts) > maxEnvKeyParts {
		return []string{strings.Join(parts, "_"), strings.Join(parts, ".")}
	}

	var out []string
	var walk func(i int, acc string)
	walk = func(i int, acc string) {
		if i == len(parts) {
			out = append(out, acc)
			return
		}
		walk(i+1, acc+"_"+parts[i])
		walk(i+1, acc+"."+parts[i])
	}
	walk(1, parts[0])
	return out
}
