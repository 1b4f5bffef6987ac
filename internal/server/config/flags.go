package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/playersync/internal/flagx"
)

// Flags handled by parseFlags.
var (
	valueFlags = []string{
		"-a", "-d", "-u", "-p", "-b", "-g", "-e",
		"-backend", "-dialect", "-max-open-conns", "-conn-max-lifetime",
		"-connect-timeout", "-max-sync-tries", "-sync-backoff", "-data-dir",
		"-s3-prefix", "-autosave", "-presence-ttl", "-sweep", "-workers",
		"-listen", "-metrics",
	}
	boolFlags = []string{"-debug"}
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string                  gRPC health bind address (e.g. ":50051")
//	-d string                  database DSN
//	-u string                  S3 root user
//	-p string                  S3 root password
//	-b string                  S3 bucket name
//	-g string                  S3 region
//	-e string                  S3 base endpoint (e.g. "http://127.0.0.1:9000/")
//	-backend string            sql, file or object
//	-dialect string            postgres or sqlite
//	-max-open-conns int        SQL pool size
//	-conn-max-lifetime dur     SQL connection lifetime
//	-connect-timeout dur       SQL connect and ping timeout
//	-max-sync-tries int        contended attempts before takeover
//	-sync-backoff dur          wait between contended attempts
//	-debug                     verbose logging
//	-data-dir string           file backend directory
//	-s3-prefix string          object key prefix
//	-autosave dur              autosave period, 0 disables
//	-presence-ttl dur          offline identity retention
//	-sweep dur                 identity cache sweep period
//	-workers int               concurrent loads and saves
//	-listen string             game server bind address
//	-metrics string            Prometheus bind address
//
// Unrecognized arguments are dropped with flagx.Filter before parsing.
func parseFlags(config *Config, args []string) error {
	args = flagx.Filter(args, valueFlags, boolFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HealthAddrGRPC, "a", config.HealthAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.Backend, "backend", config.Backend, "storage backend: sql, file or object")
	fs.StringVar(&config.Dialect, "dialect", config.Dialect, "SQL dialect: postgres or sqlite")
	fs.IntVar(&config.MaxOpenConns, "max-open-conns", config.MaxOpenConns, "SQL pool size")
	fs.DurationVar(&config.ConnMaxLifetime, "conn-max-lifetime", config.ConnMaxLifetime, "SQL connection lifetime")
	fs.DurationVar(&config.ConnectTimeout, "connect-timeout", config.ConnectTimeout, "SQL connect timeout")
	fs.IntVar(&config.MaxSyncTries, "max-sync-tries", config.MaxSyncTries, "contended attempts before takeover")
	fs.DurationVar(&config.SyncBackoff, "sync-backoff", config.SyncBackoff, "wait between contended attempts")
	fs.BoolVar(&config.Debug, "debug", config.Debug, "verbose logging")
	fs.StringVar(&config.DataDir, "data-dir", config.DataDir, "file backend directory")
	fs.StringVar(&config.S3Prefix, "s3-prefix", config.S3Prefix, "object key prefix")
	fs.DurationVar(&config.AutosaveInterval, "autosave", config.AutosaveInterval, "autosave period")
	fs.DurationVar(&config.PresenceTTL, "presence-ttl", config.PresenceTTL, "offline identity retention")
	fs.DurationVar(&config.SweepInterval, "sweep", config.SweepInterval, "identity cache sweep period")
	fs.IntVar(&config.WorkerPoolSize, "workers", config.WorkerPoolSize, "concurrent loads and saves")
	fs.StringVar(&config.ListenAddr, "listen", config.ListenAddr, "game server address and port")
	fs.StringVar(&config.MetricsAddr, "metrics", config.MetricsAddr, "metrics address and port")

	return fs.Parse(args)
}
