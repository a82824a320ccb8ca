// Package config holds the command line and environment settings of both
// binaries.
package config

import (
	"fmt"
	"time"
)

const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
)

type (
	ServerConfig struct {
		Addr    string `arg:"--addr,env:SNAPSAFE_ADDR" default:":9090" help:"listen address"`
		Backend string `arg:"--backend,env:SNAPSAFE_BACKEND" default:"sqlite" help:"storage backend: mongo or sqlite"`

		MongoURI string `arg:"--mongo-uri,env:SNAPSAFE_MONGO_URI" default:"mongodb://localhost:27017" help:"MongoDB connection string"`
		MongoDB  string `arg:"--mongo-db,env:SNAPSAFE_MONGO_DB" default:"snapsafe" help:"MongoDB database name"`

		RedisAddr     string `arg:"--redis-addr,env:SNAPSAFE_REDIS_ADDR" default:"localhost:6379" help:"Redis address for mailboxes"`
		RedisPassword string `arg:"--redis-password,env:SNAPSAFE_REDIS_PASSWORD" help:"Redis password"`
		RedisDB       int    `arg:"--redis-db,env:SNAPSAFE_REDIS_DB" default:"0" help:"Redis database"`

		SQLitePath string `arg:"--sqlite-path,env:SNAPSAFE_SQLITE_PATH" default:"snapsafe.db" help:"SQLite database file"`

		Debug bool `arg:"--debug,env:SNAPSAFE_DEBUG" help:"enable debug logging"`
		JSON  bool `arg:"--json-logs,env:SNAPSAFE_JSON_LOGS" help:"log as JSON"`
	}

	ClientConfig struct {
		Server   string `arg:"--server,env:SNAPSAFE_SERVER" default:"http://localhost:9090" help:"relay base URL"`
		Identity string `arg:"--identity,env:SNAPSAFE_IDENTITY" help:"your identity; a random one is generated when empty"`
		Peer     string `arg:"--peer,env:SNAPSAFE_PEER" help:"open a conversation with this identity on start"`

		DataDir    string `arg:"--data-dir,env:SNAPSAFE_DATA_DIR" default:".snapsafe" help:"directory for the encrypted key store"`
		Passphrase string `arg:"--passphrase,env:SNAPSAFE_PASSPHRASE" help:"passphrase protecting the key store"`

		PollInterval   time.Duration `arg:"--poll-interval,env:SNAPSAFE_POLL_INTERVAL" default:"15s" help:"mailbox polling interval"`
		RequestTimeout time.Duration `arg:"--timeout,env:SNAPSAFE_TIMEOUT" default:"10s" help:"per-request timeout"`
		NoPush         bool          `arg:"--no-push,env:SNAPSAFE_NO_PUSH" help:"poll only, do not open the notification socket"`

		CacheAddr     string        `arg:"--cache-addr,env:SNAPSAFE_CACHE_ADDR" help:"Redis address for the conversation cache; empty disables it"`
		CachePassword string        `arg:"--cache-password,env:SNAPSAFE_CACHE_PASSWORD" help:"Redis password for the conversation cache"`
		CacheTTL      time.Duration `arg:"--cache-ttl,env:SNAPSAFE_CACHE_TTL" default:"168h" help:"conversation cache lifetime"`

		LogFile string `arg:"--log-file,env:SNAPSAFE_LOG_FILE" default:"snapsafe-client.log" help:"log destination, the terminal belongs to the UI"`
		Debug   bool   `arg:"--debug,env:SNAPSAFE_DEBUG" help:"enable debug logging"`
	}
)

func (ServerConfig) Description() string {
	return "snapsafe relay: public key directory and store-and-forward mailboxes"
}

func (c *ServerConfig) Validate() error {
	switch c.Backend {
	case BackendMongo, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	return nil
}

func (ClientConfig) Description() string {
	return "snapsafe terminal client"
}

func (c *ClientConfig) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	if c.Passphrase == "" {
		return fmt.Errorf("a passphrase is required to protect the key store")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
