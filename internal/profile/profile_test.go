package profile

import (
	"os"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"LLMAPIKey default", "", profile.LLMAPIKey},
		{"MemoryBaseURL default", "https://api.mem0.ai", profile.MemoryBaseURL},
		{"MemoryAPIKey default", "", profile.MemoryAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if !profile.MemoriesEnabled {
		t.Error("MemoriesEnabled should default to true")
	}
	if profile.LLMTimeout != 120 {
		t.Errorf("LLMTimeout: expected 120, got %d", profile.LLMTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "generic LLM key",
			envVar:   "MEMOCHAT_LLM_API_KEY",
			envValue: "test-llm-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-llm-key",
		},
		{
			name:     "openrouter key",
			envVar:   "MEMOCHAT_OPENROUTER_API_KEY",
			envValue: "test-or-key",
			field:    func(p *Profile) string { return p.APIKeyForProvider("openrouter") },
			expected: "test-or-key",
		},
		{
			name:     "memory base url",
			envVar:   "MEMOCHAT_MEMORY_BASE_URL",
			envValue: "http://localhost:8888",
			field:    func(p *Profile) string { return p.MemoryBaseURL },
			expected: "http://localhost:8888",
		},
		{
			name:     "global chat model",
			envVar:   "MEMOCHAT_CHAT_MODEL",
			envValue: "google/gemini-1.5-flash",
			field:    func(p *Profile) string { return p.ChatModelID },
			expected: "google/gemini-1.5-flash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestAPIKeyForProviderFallback(t *testing.T) {
	clearEnvVars()
	os.Setenv("MEMOCHAT_LLM_API_KEY", "generic-key")
	os.Setenv("MEMOCHAT_GOOGLE_API_KEY", "google-key")
	defer clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	if got := profile.APIKeyForProvider("google"); got != "google-key" {
		t.Errorf("dedicated key: expected %q, got %q", "google-key", got)
	}
	if got := profile.APIKeyForProvider("openrouter"); got != "generic-key" {
		t.Errorf("fallback key: expected %q, got %q", "generic-key", got)
	}
}

func TestIsMemoryEnabled(t *testing.T) {
	tests := []struct {
		name           string
		setupProfile   func(*Profile)
		expectedResult bool
	}{
		{
			name:           "no API key returns false",
			setupProfile:   func(p *Profile) { p.MemoriesEnabled = true },
			expectedResult: false,
		},
		{
			name: "key without global toggle returns false",
			setupProfile: func(p *Profile) {
				p.MemoryAPIKey = "test-key"
				p.MemoriesEnabled = false
			},
			expectedResult: false,
		},
		{
			name: "key with global toggle returns true",
			setupProfile: func(p *Profile) {
				p.MemoryAPIKey = "test-key"
				p.MemoriesEnabled = true
			},
			expectedResult: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := &Profile{}
			tt.setupProfile(profile)

			if result := profile.IsMemoryEnabled(); result != tt.expectedResult {
				t.Errorf("IsMemoryEnabled(): expected %v, got %v", tt.expectedResult, result)
			}
		})
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	profile := &Profile{Mode: "dev", Driver: "mysql", Data: "."}
	if err := profile.Validate(); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestValidateDefaultsSQLiteDSN(t *testing.T) {
	dir := t.TempDir()
	profile := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}
	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if profile.DSN == "" {
		t.Error("expected a default sqlite DSN")
	}
}

// clearEnvVars clears all memochat environment variables.
func clearEnvVars() {
	vars := []string{
		"MEMOCHAT_LLM_API_KEY",
		"MEMOCHAT_LLM_BASE_URL",
		"MEMOCHAT_LLM_TIMEOUT_SECONDS",
		"MEMOCHAT_GOOGLE_API_KEY",
		"MEMOCHAT_OPENROUTER_API_KEY",
		"MEMOCHAT_OPENAI_API_KEY",
		"MEMOCHAT_CHAT_MODEL",
		"MEMOCHAT_TITLE_MODEL",
		"MEMOCHAT_MEMORY_BASE_URL",
		"MEMOCHAT_MEMORY_API_KEY",
		"MEMOCHAT_MEMORIES_ENABLED",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}
