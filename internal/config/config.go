package config

import (
	"time"

	"github.com/mochivi/dataset-curator/pkg/utils"
)

// CuratorAppConfig is the root configuration for the curator.
// It is intended to be used with a library like Viper.
type CuratorAppConfig struct {
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Storage     StorageConfig     `mapstructure:"storage" validate:"required"`
	Shards      ShardConfig       `mapstructure:"shards" validate:"required"`
	Uploader    UploaderConfig    `mapstructure:"uploader" validate:"required"`
	Validation  ValidationConfig  `mapstructure:"validation" validate:"required"`
	Queue       QueueConfig       `mapstructure:"queue" validate:"required"`
	Votes       VotesConfig       `mapstructure:"votes" validate:"required"`
	Classify    ClassifyConfig    `mapstructure:"classify" validate:"required"`
	Cache       CacheConfig       `mapstructure:"cache" validate:"required"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

func DefaultCuratorAppConfig() CuratorAppConfig {
	return CuratorAppConfig{
		Storage:         DefaultStorageConfig(),
		Shards:          DefaultShardConfig(),
		Uploader:        DefaultUploaderConfig(),
		Validation:      DefaultValidationConfig(),
		Queue:           DefaultQueueConfig(),
		Votes:           DefaultVotesConfig(),
		Classify:        DefaultClassifyConfig(),
		Cache:           DefaultCacheConfig(),
		ShutdownTimeout: utils.GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Token is validated by the credentials package when first used, not here,
// so that read-only commands can run without it.
type CredentialsConfig struct {
	Token string `mapstructure:"token"`
}

type StorageConfig struct {
	Backend   string    `mapstructure:"backend" validate:"required,oneof=local oss"`
	DataPath  string    `mapstructure:"data_path" validate:"required"`
	LocalRoot string    `mapstructure:"local_root" validate:"required_if=Backend local"`
	OSS       OSSConfig `mapstructure:"oss"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:   utils.GetEnvString("STORAGE_BACKEND", "local"),
		DataPath:  "data",
		LocalRoot: utils.GetEnvString("STORAGE_LOCAL_ROOT", "/var/lib/curator"),
	}
}

type ShardConfig struct {
	Capacity int `mapstructure:"capacity" validate:"required,gt=0"`
}

func DefaultShardConfig() ShardConfig {
	return ShardConfig{Capacity: utils.GetEnvInt("SHARD_CAPACITY", 10_000)}
}

type UploaderConfig struct {
	RetryLimit        int           `mapstructure:"retry_limit" validate:"gte=0"`
	BaseDelay         time.Duration `mapstructure:"base_delay" validate:"required,gt=0"`
	JitterFactor      float64       `mapstructure:"jitter_factor" validate:"gte=0,lte=1"`
	RateLimitWait     time.Duration `mapstructure:"rate_limit_wait" validate:"required,gt=0"`
	MaxRateLimitWaits int           `mapstructure:"max_rate_limit_waits" validate:"gte=0"` // 0 retries rate limits forever
}

func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{
		RetryLimit:    10,
		BaseDelay:     time.Second,
		JitterFactor:  0.15,
		RateLimitWait: 10 * time.Minute,
	}
}

type ValidationConfig struct {
	MaxPixels     int64         `mapstructure:"max_pixels" validate:"required,gt=0"`
	HashAlgorithm string        `mapstructure:"hash_algorithm" validate:"required,oneof=sha1 sha256 blake3"`
	ExclusionDir  string        `mapstructure:"exclusion_dir"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" validate:"required,gt=0"`
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxPixels:     178_956_970,
		HashAlgorithm: "sha256",
		FetchTimeout:  30 * time.Second,
	}
}

type QueueConfig struct {
	Window    int `mapstructure:"window" validate:"required,gt=0"`
	BatchSize int `mapstructure:"batch_size" validate:"required,gt=0"`
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Window: 16, BatchSize: 100}
}

type VotesConfig struct {
	Driver       string `mapstructure:"driver" validate:"required,oneof=sqlite mysql"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	MinVoteCount int    `mapstructure:"min_vote_count" validate:"required,gt=0"`
}

func DefaultVotesConfig() VotesConfig {
	minVotes := 1
	if utils.IsProduction() {
		minVotes = 5
	}
	return VotesConfig{
		Driver:       "sqlite",
		DSN:          utils.GetEnvString("VOTES_DSN", "/var/lib/curator/votes.db"),
		MinVoteCount: minVotes,
	}
}

type ClassifyConfig struct {
	ScorerURL   string        `mapstructure:"scorer_url" validate:"omitempty,url"`
	ScorerToken string        `mapstructure:"scorer_token"`
	Models      []string      `mapstructure:"models" validate:"required,min=1,dive,required"`
	Threshold   float64       `mapstructure:"threshold" validate:"gt=0,lt=1"`
	ScoreTTL    time.Duration `mapstructure:"score_ttl" validate:"required,gt=0"`
}

func DefaultClassifyConfig() ClassifyConfig {
	return ClassifyConfig{
		ScorerURL: utils.GetEnvString("SCORER_URL", "http://localhost:8500"),
		Models:    []string{"umm-maybe/AI-image-detector"},
		Threshold: 0.5,
		ScoreTTL:  15 * time.Minute,
	}
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend" validate:"required,oneof=memory redis"`
	TTL           time.Duration `mapstructure:"ttl" validate:"required,gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required,gt=0"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       "memory",
		TTL:           15 * time.Minute,
		SweepInterval: time.Minute,
		RedisPrefix:   "curator:",
	}
}
