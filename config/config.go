package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const appDirName = "DFUChat"

type Config struct {
	BackendURL            string `json:"backend_url"`
	DataDir               string `json:"data_dir"`
	DBPath                string `json:"db_path"`
	LogFile               string `json:"log_file"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	Debug                 bool   `json:"debug"`

	// RenderMarkdown turns glamour rendering of assistant replies on or off.
	RenderMarkdown bool `json:"render_markdown"`
}

// DefaultConfig builds the configuration from defaults, .env and the process
// environment, in that order.
func DefaultConfig() *Config {
	root, err := os.UserConfigDir()
	if err != nil {
		root, _ = os.Getwd()
	}
	cfg := DefaultConfigWithRoot(filepath.Join(root, appDirName))

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()
	return cfg
}

// DefaultConfigWithRoot returns defaults rooted at dir without consulting the environment.
func DefaultConfigWithRoot(dir string) *Config {
	return &Config{
		BackendURL:            "http://localhost:8000",
		DataDir:               dir,
		DBPath:                filepath.Join(dir, "storage.db"),
		LogFile:               filepath.Join(dir, "logs", "dfuchat.log"),
		RequestTimeoutSeconds: 60,
		Debug:                 false,
		RenderMarkdown:        true,
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("DFUCHAT_BACKEND_URL"); val != "" {
		c.BackendURL = val
	}
	if val := os.Getenv("DFUCHAT_DATA_DIR"); val != "" {
		c.DataDir = val
		c.DBPath = filepath.Join(val, "storage.db")
		c.LogFile = filepath.Join(val, "logs", "dfuchat.log")
	}
	if val := os.Getenv("DFUCHAT_DB_PATH"); val != "" {
		c.DBPath = val
	}
	if val := os.Getenv("DFUCHAT_LOG_FILE"); val != "" {
		c.LogFile = val
	}
	if val := os.Getenv("DFUCHAT_REQUEST_TIMEOUT"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.RequestTimeoutSeconds = v
		}
	}
	if val := os.Getenv("DFUCHAT_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
	if val := os.Getenv("DFUCHAT_RENDER_MARKDOWN"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.RenderMarkdown = enabled
		}
	}
}

// ApplyEnv overlays environment overrides onto a config loaded from disk.
func (c *Config) ApplyEnv() {
	c.loadFromEnv()
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("backend_url is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend_url %q is not an absolute URL", c.BackendURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend_url scheme must be http or https, got %q", u.Scheme)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.RequestTimeoutSeconds < 1 || c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds must be between 1 and 600, got %d", c.RequestTimeoutSeconds)
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.DBPath)}
	if c.LogFile != "" {
		dirs = append(dirs, filepath.Dir(c.LogFile))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
