package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"
)

func validConfig() Config {
	return Config{
		URL:       "ws://localhost:8000/rpc",
		Namespace: "finrag",
		Database:  "filings",
		Username:  "root",
		Password:  "root",
		AuthLevel: AuthRoot,
		Dimension: 1024,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"wss", func(c *Config) { c.URL = "wss://db.example.com" }, ""},
		{"empty auth level", func(c *Config) { c.AuthLevel = "" }, ""},
		{"http scheme", func(c *Config) { c.URL = "http://localhost:8000" }, "ws or wss"},
		{"bad url", func(c *Config) { c.URL = "ws://[::1" }, "surrealdb url"},
		{"no namespace", func(c *Config) { c.Namespace = "" }, "namespace and database"},
		{"unknown auth level", func(c *Config) { c.AuthLevel = "namespace" }, "auth level"},
		{"zero dimension", func(c *Config) { c.Dimension = 0 }, "dimension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfigRPCBase(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"ws://localhost:8000/rpc", "ws://localhost:8000"},
		{"ws://localhost:8000/rpc/", "ws://localhost:8000"},
		{"wss://db.example.com", "wss://db.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Config{URL: tt.url}.rpcBase())
		})
	}
}

func TestConfigCredentials(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, surrealdb.Auth{Username: "root", Password: "root"}, cfg.credentials())

	cfg.AuthLevel = AuthDatabase
	assert.Equal(t, surrealdb.Auth{Namespace: "finrag", Database: "filings", Username: "root", Password: "root"}, cfg.credentials())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{AuthLevel: ""}.withDefaults()
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 10, cfg.MaxReconnects)
	assert.Equal(t, AuthRoot, cfg.AuthLevel)

	cfg = Config{DialTimeout: time.Second, MaxReconnects: 3}.withDefaults()
	assert.Equal(t, time.Second, cfg.DialTimeout)
	assert.Equal(t, 3, cfg.MaxReconnects)
}
