// Package config provides configuration loading for docindex.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then DOCINDEX_ environment variables. The sections here are plain data;
// cmd/docindexd maps them onto each component's own config type.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/articler/docindex/internal/telemetry"
)

// Storage backends for the document registry and the account store.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config holds the complete docindex configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   telemetry.Config  `koanf:"telemetry"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Budget      BudgetConfig      `koanf:"budget"`
	Storage     StorageConfig     `koanf:"storage"`
	PDF         PDFConfig         `koanf:"pdf"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	BodyLimit       string        `koanf:"body_limit"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the subset of logger settings exposed to operators.
type LoggingConfig struct {
	Level        string   `koanf:"level"`
	Format       string   `koanf:"format"`
	Caller       bool     `koanf:"caller"`
	Stacktrace   string   `koanf:"stacktrace"`
	Sampling     bool     `koanf:"sampling"`
	OTEL         bool     `koanf:"otel"`
	RedactFields []string `koanf:"redact_fields"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider string `koanf:"provider"`

	// Collection overrides the derived docindex_<provider>_<dim> name.
	Collection string `koanf:"collection"`

	Qdrant   QdrantConfig   `koanf:"qdrant"`
	Chromem  ChromemConfig  `koanf:"chromem"`
	Postgres PostgresConfig `koanf:"postgres"`
}

// QdrantConfig holds the Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port"`
	APIKey        Secret        `koanf:"api_key"`
	UseTLS        bool          `koanf:"use_tls"`
	DialTimeout   time.Duration `koanf:"dial_timeout"`
	RetryAttempts int           `koanf:"retry_attempts"`
}

// ChromemConfig holds the embedded store settings. An empty Path keeps
// vectors in memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// PostgresConfig holds the pgvector connection settings.
type PostgresConfig struct {
	DSN          Secret `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider  string  `koanf:"provider"`
	Model     string  `koanf:"model"`
	BaseURL   string  `koanf:"base_url"`
	APIKey    Secret  `koanf:"api_key"`
	Dimension int     `koanf:"dimension"`
	BatchSize int     `koanf:"batch_size"`
	CacheDir  string  `koanf:"cache_dir"`
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// ChunkingConfig holds the chunk window in characters.
type ChunkingConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// RetrievalConfig holds search and remove limits.
type RetrievalConfig struct {
	DefaultTop    int `koanf:"default_top"`
	RemoveScanCap int `koanf:"remove_scan_cap"`
}

// BudgetConfig holds the tokenizer and starting balances.
type BudgetConfig struct {
	TokenizerModel string         `koanf:"tokenizer_model"`
	Balances       BalancesConfig `koanf:"balances"`
}

// BalancesConfig holds the starting balance per metered tier.
type BalancesConfig struct {
	Free  int64 `koanf:"free"`
	Trial int64 `koanf:"trial"`
	Paid  int64 `koanf:"paid"`
}

// StorageConfig selects where documents and accounts are persisted.
type StorageConfig struct {
	// SQLitePath is shared by every component using the sqlite backend.
	SQLitePath string `koanf:"sqlite_path"`

	// RegistryFile is the JSON file used by the file registry backend.
	RegistryFile string `koanf:"registry_file"`

	Registry string `koanf:"registry"`
	Accounts string `koanf:"accounts"`
}

// PDFConfig holds PDF download limits.
type PDFConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Timeout   time.Duration `koanf:"timeout"`
	MaxBytes  int64         `koanf:"max_bytes"`
	UserAgent string        `koanf:"user_agent"`
}

// Defaults returns the built-in configuration. Load decodes the file and
// environment on top of it, so any key left unset keeps this value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			BodyLimit:       "20M",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			Caller:       true,
			Stacktrace:   "error",
			Sampling:     true,
			RedactFields: []string{"api_key", "token", "password", "secret", "authorization", "dsn"},
		},
		Telemetry: *telemetry.NewDefaultConfig(),
		VectorStore: VectorStoreConfig{
			Provider: "chromem",
			Qdrant: QdrantConfig{
				Host:          "localhost",
				Port:          6334,
				DialTimeout:   5 * time.Second,
				RetryAttempts: 3,
			},
			Chromem: ChromemConfig{
				Path:     "~/.local/share/docindex/vectors",
				Compress: true,
			},
			Postgres: PostgresConfig{
				MaxOpenConns: 10,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			BaseURL:  "https://api.openai.com/v1",
		},
		Chunking: ChunkingConfig{
			Size:    4000,
			Overlap: 200,
		},
		Retrieval: RetrievalConfig{
			DefaultTop:    3,
			RemoveScanCap: 100000,
		},
		Budget: BudgetConfig{
			TokenizerModel: "gpt-3.5-turbo",
			Balances: BalancesConfig{
				Free:  0,
				Trial: 1000,
				Paid:  100000,
			},
		},
		Storage: StorageConfig{
			SQLitePath:   "~/.local/share/docindex/docindex.db",
			RegistryFile: "~/.local/share/docindex/registry.json",
			Registry:     BackendSQLite,
			Accounts:     BackendSQLite,
		},
		PDF: PDFConfig{
			Enabled:   true,
			Timeout:   60 * time.Second,
			MaxBytes:  50 << 20,
			UserAgent: "docindex/0.1",
		},
	}
}

var validProviders = map[string][]string{
	"vectorstore": {"chromem", "qdrant", "pgvector"},
	"embeddings":  {"openai", "ollama", "tei", "fastembed"},
	"storage":     {BackendMemory, BackendSQLite, BackendFile},
}

func oneOf(section, value string) bool {
	for _, v := range validProviders[section] {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// Validate reports every configuration problem, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout must not be negative")
	}

	if err := c.Telemetry.Validate(); err != nil {
		add("telemetry: %w", err)
	}

	if !oneOf("vectorstore", c.VectorStore.Provider) {
		add("vectorstore.provider %q must be one of %v", c.VectorStore.Provider, validProviders["vectorstore"])
	}
	switch strings.ToLower(c.VectorStore.Provider) {
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			add("vectorstore.qdrant.host is required")
		}
		if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
			add("vectorstore.qdrant.port %d out of range", c.VectorStore.Qdrant.Port)
		}
	case "pgvector":
		if !c.VectorStore.Postgres.DSN.IsSet() {
			add("vectorstore.postgres.dsn is required")
		}
	}

	if !oneOf("embeddings", c.Embeddings.Provider) {
		add("embeddings.provider %q must be one of %v", c.Embeddings.Provider, validProviders["embeddings"])
	}
	if c.Embeddings.Dimension < 0 {
		add("embeddings.dimension must not be negative")
	}
	if c.Embeddings.RateLimit < 0 {
		add("embeddings.rate_limit must not be negative")
	}

	if c.Chunking.Size <= 0 {
		add("chunking.size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		add("chunking.overlap %d must be in [0, size)", c.Chunking.Overlap)
	}

	if c.Retrieval.DefaultTop <= 0 {
		add("retrieval.default_top must be positive")
	}
	if c.Retrieval.RemoveScanCap <= 0 {
		add("retrieval.remove_scan_cap must be positive")
	}

	b := c.Budget.Balances
	if b.Free < 0 || b.Trial < 0 || b.Paid < 0 {
		add("budget.balances must not be negative")
	}

	for _, backend := range []struct{ key, value string }{
		{"storage.registry", c.Storage.Registry},
		{"storage.accounts", c.Storage.Accounts},
	} {
		if !oneOf("storage", backend.value) {
			add("%s %q must be one of %v", backend.key, backend.value, validProviders["storage"])
		}
	}
	if strings.EqualFold(c.Storage.Accounts, BackendFile) {
		add("storage.accounts does not support the file backend")
	}
	if c.usesSQLite() && c.Storage.SQLitePath == "" {
		add("storage.sqlite_path is required for the sqlite backend")
	}

	if c.PDF.Enabled && c.PDF.MaxBytes <= 0 {
		add("pdf.max_bytes must be positive")
	}

	return errors.Join(errs...)
}

func (c *Config) usesSQLite() bool {
	return strings.EqualFold(c.Storage.Registry, BackendSQLite) ||
		strings.EqualFold(c.Storage.Accounts, BackendSQLite)
}
