// Package config loads the sidecar's plugin-level settings: which
// per-agent toggles are enabled, the plugin's root directory, and the
// .env file that seeds the process environment before the database
// config (pkg/database.LoadConfigFromEnv) and tool root are read.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds the plugin-wide settings read once at process start.
type Config struct {
	PluginRoot string
	ToolRoot   string
	CommandsDir string

	// MemoryRetrieverEnabled/MemoryLearnerEnabled gate the two background
	// agents' hooks-side enqueue calls (AIDAM_MEMORY_RETRIEVER /
	// AIDAM_MEMORY_LEARNER).
	MemoryRetrieverEnabled bool
	MemoryLearnerEnabled   bool
}

// Load reads pluginRoot/.env (without overwriting already-set variables)
// then builds a Config from the environment.
func Load(pluginRoot string) (*Config, error) {
	envPath := filepath.Join(pluginRoot, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, err
		}
	}

	home, _ := os.UserHomeDir()
	defaultToolRoot := filepath.Join(home, ".claude", "generated_tools")
	defaultCommandsDir := filepath.Join(pluginRoot, "commands")

	return &Config{
		PluginRoot:             pluginRoot,
		ToolRoot:               getEnvOrDefault("AIDAM_TOOL_ROOT", defaultToolRoot),
		CommandsDir:            getEnvOrDefault("AIDAM_COMMANDS_DIR", defaultCommandsDir),
		MemoryRetrieverEnabled: getEnvBool("AIDAM_MEMORY_RETRIEVER", true),
		MemoryLearnerEnabled:   getEnvBool("AIDAM_MEMORY_LEARNER", true),
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	switch val {
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	default:
		return defaultVal
	}
}
