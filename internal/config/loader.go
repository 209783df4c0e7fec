package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flags that map onto configuration keys when set on the command line
var flagKeys = map[string]string{
	"token":       "credentials.token",
	"storage":     "storage.backend",
	"data-root":   "storage.local_root",
	"votes-dsn":   "votes.dsn",
	"min-votes":   "votes.min_vote_count",
	"batch-size":  "queue.batch_size",
	"exclusions":  "validation.exclusion_dir",
	"scorer-url":  "classify.scorer_url",
	"cache":       "cache.backend",
	"redis-addr":  "cache.redis_addr",
	"shard-limit": "shards.capacity",
}

// LoadCuratorConfig reads configuration from defaults, an optional curator.yaml in path,
// environment variables and command line flags, in increasing order of precedence.
func LoadCuratorConfig(path string, flags *pflag.FlagSet) (*CuratorAppConfig, error) {
	v := viper.New()

	// Set defaults, one key at a time so AutomaticEnv can resolve every leaf
	setDefaults(v, "", reflect.ValueOf(DefaultCuratorAppConfig()))

	// Configure file reading
	v.SetConfigName("curator")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Configure environment variable reading
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Unmarshal and validate
	var cfg CuratorAppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func Validate(cfg *CuratorAppConfig) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Storage.Backend == "oss" && (cfg.Storage.OSS.Endpoint == "" || cfg.Storage.OSS.Bucket == "") {
		return errors.New("invalid configuration: oss backend requires storage.oss.endpoint and storage.oss.bucket")
	}
	return nil
}

// setDefaults walks a config struct and registers each leaf under its mapstructure key
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fieldVal := val.Field(i)
		if fieldVal.Kind() == reflect.Struct {
			setDefaults(v, key, fieldVal)
			continue
		}
		v.SetDefault(key, fieldVal.Interface())
	}
}
