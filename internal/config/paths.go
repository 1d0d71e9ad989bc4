package config

import (
	"os"
	"path/filepath"
)

// SkillhubPath returns the root directory for Skillhub data.
// It uses $SKILLHUB_PATH if set, otherwise defaults to ~/.skillhub.
func SkillhubPath() string {
	if v := os.Getenv("SKILLHUB_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".skillhub")
	}
	return filepath.Join(home, ".skillhub")
}

// ConfigPath returns the path to the Skillhub config file.
func ConfigPath() string {
	return filepath.Join(SkillhubPath(), "config.jsonc")
}

// DotenvPath returns the path to the Skillhub .env file.
func DotenvPath() string {
	return filepath.Join(SkillhubPath(), ".env")
}
