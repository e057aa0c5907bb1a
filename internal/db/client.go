// Package db implements the chunk store on SurrealDB with an auto-reconnecting WebSocket.
package db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

// Auth levels accepted by Config.AuthLevel.
const (
	AuthRoot     = "root"
	AuthDatabase = "database"
)

const (
	defaultDialTimeout   = 5 * time.Second
	defaultMaxReconnects = 10
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string // ws:// or wss://, with or without the /rpc suffix
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // AuthRoot or AuthDatabase; empty means root
	Dimension int    // embedding dimension for the HNSW index

	DialTimeout   time.Duration // zero means 5s
	MaxReconnects int           // zero means 10
}

// Validate reports the first problem that would stop NewClient from connecting.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("surrealdb url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("surrealdb url must use ws or wss, got %q", c.URL)
	}
	if c.Namespace == "" || c.Database == "" {
		return errors.New("surrealdb namespace and database are required")
	}
	switch c.AuthLevel {
	case "", AuthRoot, AuthDatabase:
	default:
		return fmt.Errorf("unknown surrealdb auth level %q", c.AuthLevel)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// rpcBase is the endpoint gorillaws dials. It appends /rpc itself.
func (c Config) rpcBase() string {
	return strings.TrimSuffix(strings.TrimSuffix(c.URL, "/"), "/rpc")
}

// credentials scopes database users to their namespace and database. Root
// users sign in without a scope.
func (c Config) credentials() surrealdb.Auth {
	if c.AuthLevel == AuthDatabase {
		return surrealdb.Auth{
			Namespace: c.Namespace,
			Database:  c.Database,
			Username:  c.Username,
			Password:  c.Password,
		}
	}
	return surrealdb.Auth{Username: c.Username, Password: c.Password}
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.AuthLevel == "" {
		c.AuthLevel = AuthRoot
	}
	return c
}

var pinHTTP11 sync.Once

// pinWebSocketHTTP11 stops TLS from negotiating HTTP/2 via ALPN, which
// breaks the WebSocket upgrade on wss:// endpoints.
func pinWebSocketHTTP11() {
	pinHTTP11.Do(func() {
		gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{NextProtos: []string{"http/1.1"}}
	})
}

// Client is the SurrealDB chunk store.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	cfg    Config
	logger *slog.Logger
}

// NewClient connects, signs in and selects the namespace and database.
// Dropped connections are re-established with exponential backoff.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	log = log.With("store", "surrealdb", "namespace", cfg.Namespace, "database", cfg.Database)

	conn := dial(cfg, logger.New(log.Handler()))
	log.Info("connecting chunk store", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &Client{conn: conn, cfg: cfg, logger: log}
	if err := c.open(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	log.Info("chunk store connected", "auth_level", cfg.AuthLevel, "dimension", cfg.Dimension)
	return c, nil
}

func dial(cfg Config, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	if strings.HasPrefix(cfg.URL, "wss://") {
		pinWebSocketHTTP11()
	}
	codec := surrealcbor.New()
	base := cfg.rpcBase()
	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     base,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		cfg.DialTimeout,
		codec,
		sdkLogger,
	)

	backoff := rews.NewExponentialBackoffRetryer()
	backoff.InitialDelay = time.Second
	backoff.MaxDelay = 30 * time.Second
	backoff.Multiplier = 2.0
	backoff.MaxRetries = cfg.MaxReconnects
	conn.Retryer = backoff
	return conn
}

// open binds the session: sign in, then select namespace and database.
func (c *Client) open(ctx context.Context) error {
	db, err := surrealdb.FromConnection(ctx, c.conn)
	if err != nil {
		return fmt.Errorf("from connection: %w", err)
	}
	if _, err := db.SignIn(ctx, c.cfg.credentials()); err != nil {
		return fmt.Errorf("signin as %s user %q: %w", c.cfg.AuthLevel, c.cfg.Username, err)
	}
	if err := db.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
		return fmt.Errorf("use %s/%s: %w", c.cfg.Namespace, c.cfg.Database, err)
	}
	c.db = db
	return nil
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing chunk store")
	return c.conn.Close(ctx)
}

// EnsureSchema defines the chunk table and its indexes if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL(c.cfg.Dimension), nil); err != nil {
		return fmt.Errorf("init schema: %w", wrapQueryError(err))
	}
	c.logger.Info("chunk schema ready", "dimension", c.cfg.Dimension)
	return nil
}

// WipeData deletes every chunk while preserving schema. Use for testing only.
func (c *Client) WipeData(ctx context.Context) error {
	c.logger.Warn("deleting all chunks")
	if _, err := surrealdb.Query[any](ctx, c.db, "DELETE chunk", nil); err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}
