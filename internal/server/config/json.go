package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/playersync/internal/flagx"
)

// JsonConfig is the on-disk shape of a configuration file. Pointer fields
// distinguish "absent" from "zero" so that a partial file only overrides the
// keys it names.
type JsonConfig struct {
	Backend          *string   `json:"backend"`
	Dialect          *string   `json:"dialect"`
	DatabaseDSN      *string   `json:"database_dsn"`
	MaxOpenConns     *int      `json:"max_open_conns"`
	ConnMaxLifetime  *Duration `json:"conn_max_lifetime"`
	ConnectTimeout   *Duration `json:"connect_timeout"`
	MaxSyncTries     *int      `json:"max_sync_tries"`
	SyncBackoff      *Duration `json:"sync_backoff"`
	Debug            *bool     `json:"debug"`
	DataDir          *string   `json:"data_dir"`
	S3RootUser       *string   `json:"s3_root_user"`
	S3RootPassword   *string   `json:"s3_root_password"`
	S3Bucket         *string   `json:"s3_bucket"`
	S3Region         *string   `json:"s3_region"`
	S3BaseEndpoint   *string   `json:"s3_base_endpoint"`
	S3Prefix         *string   `json:"s3_prefix"`
	AutosaveInterval *Duration `json:"autosave_interval"`
	PresenceTTL      *Duration `json:"presence_ttl"`
	SweepInterval    *Duration `json:"sweep_interval"`
	WorkerPoolSize   *int      `json:"worker_pool_size"`
	ListenAddr       *string   `json:"listen_addr"`
	HealthAddrGRPC   *string   `json:"health_addr_grpc"`
	MetricsAddr      *string   `json:"metrics_addr"`
}

// parseJson overlays the file named by the -c or -config flag onto config.
// Without either flag nothing is loaded.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	set(&config.Backend, c.Backend)
	set(&config.Dialect, c.Dialect)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.MaxOpenConns, c.MaxOpenConns)
	setDuration(&config.ConnMaxLifetime, c.ConnMaxLifetime)
	setDuration(&config.ConnectTimeout, c.ConnectTimeout)
	set(&config.MaxSyncTries, c.MaxSyncTries)
	setDuration(&config.SyncBackoff, c.SyncBackoff)
	set(&config.Debug, c.Debug)
	set(&config.DataDir, c.DataDir)
	set(&config.S3RootUser, c.S3RootUser)
	set(&config.S3RootPassword, c.S3RootPassword)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.S3Prefix, c.S3Prefix)
	setDuration(&config.AutosaveInterval, c.AutosaveInterval)
	setDuration(&config.PresenceTTL, c.PresenceTTL)
	setDuration(&config.SweepInterval, c.SweepInterval)
	set(&config.WorkerPoolSize, c.WorkerPoolSize)
	set(&config.ListenAddr, c.ListenAddr)
	set(&config.HealthAddrGRPC, c.HealthAddrGRPC)
	set(&config.MetricsAddr, c.MetricsAddr)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
