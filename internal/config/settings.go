package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Layout names relative to the base directory.
const (
	RegistryFileName = "skills.toml"
	SkillsDirName    = "skills"
	GlobalDirName    = ".skills"
)

// Environment variables consulted when a flag is left at its default.
const (
	EnvDir      = "SKILLS_DIR"
	EnvJobs     = "SKILLS_JOBS"
	EnvLogLevel = "SKILLS_LOG_LEVEL"
	EnvAPIURL   = "GITHUB_API_URL"
	EnvRawURL   = "GITHUB_RAW_URL"
)

const (
	DefaultJobs     = 4
	DefaultLogLevel = "warn"
	DefaultAPIURL   = "https://api.github.com"
	DefaultRawURL   = "https://raw.githubusercontent.com"
)

// Settings is the runtime configuration shared by every command.
type Settings struct {
	BaseDir         string
	Global          bool
	Jobs            int
	LogLevel        string
	JSON            bool
	AssumeYes       bool
	DetectAmbiguity bool
	APIURL          string
	RawURL          string
}

// DefaultSettings returns settings with env fallbacks applied.
func DefaultSettings() Settings {
	s := Settings{
		BaseDir:  ".",
		Jobs:     DefaultJobs,
		LogLevel: DefaultLogLevel,
		APIURL:   DefaultAPIURL,
		RawURL:   DefaultRawURL,
	}
	if v := os.Getenv(EnvDir); v != "" {
		s.BaseDir = v
	}
	if v := os.Getenv(EnvJobs); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Jobs = n
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		s.APIURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvRawURL); v != "" {
		s.RawURL = strings.TrimRight(v, "/")
	}
	return s
}

// Resolve finalizes the settings after flags are parsed. --global swaps the
// base directory for ~/.skills.
func (s Settings) Resolve() (Settings, error) {
	if s.Jobs < 1 {
		return s, fmt.Errorf("--jobs must be at least 1, got %d", s.Jobs)
	}
	if s.Global {
		home, err := os.UserHomeDir()
		if err != nil {
			return s, fmt.Errorf("resolving home directory: %w", err)
		}
		s.BaseDir = filepath.Join(home, GlobalDirName)
	}
	abs, err := filepath.Abs(s.BaseDir)
	if err != nil {
		return s, fmt.Errorf("resolving base directory %q: %w", s.BaseDir, err)
	}
	s.BaseDir = abs
	return s, nil
}

// SkillPath is the slash path of a skill directory relative to the base dir.
func SkillPath(name string) string {
	return SkillsDirName + "/" + name
}
