package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Provider selects which entry of Providers backs response generation.
	// Empty, or an entry without a credential, falls back to the canned
	// generator so the process still starts without an AI key.
	Provider string `json:"provider"`
	// ExternalCallTimeout bounds each transcription/generation/synthesis
	// call, in seconds.
	ExternalCallTimeout int `json:"external_call_timeout"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// RedisConfig configures the optional turn cache. An empty host disables it.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// providerKeyEnv lists, in precedence order, the env var that may carry each
// provider's credential when the config file leaves api_key blank.
var providerKeyEnv = []struct {
	provider string
	env      string
}{
	{"openai", "OPENAI_API_KEY"},
	{"claude", "ANTHROPIC_API_KEY"},
	{"gemini", "GEMINI_API_KEY"},
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file at the default path is not an error: the service falls back
// to a local sqlite database and the canned generator.
func Load(path string) (*Config, error) {
	defaulted := path == ""
	if defaulted {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if defaulted && os.IsNotExist(err) {
			cfg := defaults()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Databases == nil {
		cfg.Databases = defaults().Databases
	}
	applyEnv(&cfg)

	for name, db := range cfg.Databases {
		if strings.EqualFold(name, "sqlite3") && db.DSN != "" &&
			!strings.Contains(db.DSN, ":memory:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return &cfg, nil
}

func defaults() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:       ":5000",
			ExternalCallTimeout: 30,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "ringtalk.db"},
		},
	}
}

// applyEnv fills credentials and the store DSN from the environment so a
// deployment can run from env vars alone, the way the original service did.
func applyEnv(cfg *Config) {
	if dsn := os.Getenv("RINGTALK_DSN"); dsn != "" {
		db := cfg.Databases["sqlite3"]
		db.DSN = dsn
		cfg.Databases["sqlite3"] = db
	}
	if addr := os.Getenv("RINGTALK_ADDR"); addr != "" {
		cfg.BasicConfig.ServerAddress = addr
	}
	for _, entry := range providerKeyEnv {
		key := os.Getenv(entry.env)
		if key == "" {
			continue
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		prov := cfg.Providers[entry.provider]
		if prov.APIKey == "" {
			prov.APIKey = key
			cfg.Providers[entry.provider] = prov
		}
		if cfg.BasicConfig.Provider == "" {
			cfg.BasicConfig.Provider = entry.provider
		}
	}
	if cfg.BasicConfig.ExternalCallTimeout <= 0 {
		cfg.BasicConfig.ExternalCallTimeout = 30
	}
}
