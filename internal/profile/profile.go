package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server. It is constructed once
// at startup and injected into every component that needs it; nothing in the
// engine reads ambient global state.
type Profile struct {
	// Server
	Mode string // "prod", "dev" or "demo"
	Addr string
	Port int

	// Storage
	Data   string // data directory
	Driver string // "sqlite" or "postgres"
	DSN    string

	// LLM configuration (OpenAI-compatible protocol). The API key map is
	// keyed by provider name from the model catalog; APIKey is the
	// fallback for providers without a dedicated key.
	LLMAPIKey       string
	LLMBaseURL      string // optional override, has a default per provider
	LLMTimeout      int    // request timeout in seconds
	ProviderAPIKeys map[string]string

	// Global model defaults. Empty means "use the catalog default".
	ChatModelID  string
	TitleModelID string

	// Memory collaborator configuration.
	MemoryBaseURL   string
	MemoryAPIKey    string
	MemoryUserID    string // opaque user scope for all memory operations
	MemoriesEnabled bool   // global memory toggle, dominates per-session flags

	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsMemoryEnabled reports whether the memory collaborator is both globally
// toggled on and configured.
func (p *Profile) IsMemoryEnabled() bool {
	return p.MemoriesEnabled && p.MemoryAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultBool returns environment variable value as bool or default value.
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMAPIKey = getEnvOrDefault("MEMOCHAT_LLM_API_KEY", p.LLMAPIKey)
	p.LLMBaseURL = getEnvOrDefault("MEMOCHAT_LLM_BASE_URL", p.LLMBaseURL)
	p.LLMTimeout = getEnvOrDefaultInt("MEMOCHAT_LLM_TIMEOUT_SECONDS", 120)

	// Per-provider keys override the generic fallback.
	p.ProviderAPIKeys = map[string]string{}
	for provider, env := range map[string]string{
		"google":     "MEMOCHAT_GOOGLE_API_KEY",
		"openrouter": "MEMOCHAT_OPENROUTER_API_KEY",
		"openai":     "MEMOCHAT_OPENAI_API_KEY",
	} {
		if key := os.Getenv(env); key != "" {
			p.ProviderAPIKeys[provider] = key
		}
	}

	p.ChatModelID = getEnvOrDefault("MEMOCHAT_CHAT_MODEL", p.ChatModelID)
	p.TitleModelID = getEnvOrDefault("MEMOCHAT_TITLE_MODEL", p.TitleModelID)

	p.MemoryBaseURL = getEnvOrDefault("MEMOCHAT_MEMORY_BASE_URL", "https://api.mem0.ai")
	p.MemoryAPIKey = getEnvOrDefault("MEMOCHAT_MEMORY_API_KEY", "")
	p.MemoryUserID = getEnvOrDefault("MEMOCHAT_MEMORY_USER_ID", "default")
	p.MemoriesEnabled = getEnvOrDefaultBool("MEMOCHAT_MEMORIES_ENABLED", true)
}

// APIKeyForProvider resolves the API key for a provider, falling back to the
// generic LLM key when no dedicated key is configured.
func (p *Profile) APIKeyForProvider(provider string) string {
	if key, ok := p.ProviderAPIKeys[provider]; ok {
		return key
	}
	return p.LLMAPIKey
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q, expected sqlite or postgres", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "memochat")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/memochat"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("memochat_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	return nil
}
