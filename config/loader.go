package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
)

type loaderOptions struct {
	configFile string
	envFile    string
	exists     func(path string) bool
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*loaderOptions)

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.envFile = path }
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadConfig loads configuration for a service into cfg, a pointer to a
// struct with mapstructure tags.
//
// Sources, lowest precedence first: the config file, then the environment.
// Every leaf key is bound to its upper-cased, underscore-joined env name, so
// pipe.rate_limit.burst reads PIPE_RATE_LIMIT_BURST. A .env file only fills
// variables that are not already set. Without explicit paths both files are
// searched for under ./cmd/<service>, ./config and the working directory.
func LoadConfig(serviceName string, cfg any, opts ...LoaderOption) error {
	o := loaderOptions{exists: fileExists}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.WithComponent("config")

	configFile := o.configFile
	if configFile == "" {
		configFile = firstExisting(o.exists, configCandidates(serviceName))
	}
	envFile := o.envFile
	if envFile == "" {
		envFile = firstExisting(o.exists, envCandidates(serviceName))
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configFile != "" && o.exists(configFile) {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			log.WithError(err).Warn("failed to load config file", logger.Fields("file", configFile))
		}
	}
	if envFile != "" && o.exists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			log.WithError(err).Warn("failed to load env file", logger.Fields("file", envFile))
		}
	}

	for _, key := range envKeys(reflect.TypeOf(cfg), "") {
		if err := v.BindEnv(key); err != nil {
			return errors.InvalidConfig(fmt.Sprintf("failed to bind env for %s", key)).WithCause(err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return errors.InvalidConfig(fmt.Sprintf("failed to unmarshal config for service %s", serviceName)).WithCause(err)
	}

	log.Debug("config loaded", logger.Fields("service", serviceName, "config_file", configFile, "env_file", envFile))
	return nil
}

func configCandidates(serviceName string) []string {
	return []string{
		fmt.Sprintf("./cmd/%s/config.yml", serviceName),
		fmt.Sprintf("../cmd/%s/config.yml", serviceName),
		fmt.Sprintf("../../cmd/%s/config.yml", serviceName),
		"./config/config.yml",
		"./config.yml",
	}
}

func envCandidates(serviceName string) []string {
	var paths []string
	for _, dir := range []string{"./cmd/" + serviceName, "./config", "."} {
		paths = append(paths, dir+"/.env."+serviceName, dir+"/.env")
	}
	return paths
}

func firstExisting(exists func(string) bool, paths []string) string {
	for _, p := range paths {
		if exists(p) {
			return p
		}
	}
	return ""
}

// envKeys lists the dotted viper key of every leaf field reachable from t,
// following mapstructure names. Squashed structs share their parent's
// prefix; fields tagged "-" and func fields are skipped.
func envKeys(t reflect.Type, prefix string) []string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, tagOpts, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if strings.Contains(tagOpts, "squash") {
			keys = append(keys, envKeys(ft, prefix)...)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}

		switch ft.Kind() {
		case reflect.Struct:
			keys = append(keys, envKeys(ft, prefix+name+".")...)
		case reflect.Func, reflect.Chan, reflect.Interface:
		default:
			keys = append(keys, prefix+name)
		}
	}
	return keys
}
