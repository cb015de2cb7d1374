package pagesearch

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the pipeline's directories, caps, and timeouts. The
// zero value is usable; unset fields take defaults.
type Config struct {
	// CacheDir is the root for per-document content caches.
	CacheDir string `yaml:"cacheDir"`

	// IndexDir is the root for per-document index directories.
	IndexDir string `yaml:"indexDir"`

	// PageCap disables indexing for documents with more pages; such
	// documents degrade to no search results rather than risk unbounded
	// indexing latency. Zero means DefaultPageCap; negative means no cap.
	PageCap int `yaml:"pageCap"`

	// OCRTargetWidth is the raster width pages are rendered at for OCR.
	OCRTargetWidth int `yaml:"ocrTargetWidth"`

	// OCRBatchSize bounds concurrently rendered pages during fallback.
	OCRBatchSize int `yaml:"ocrBatchSize"`

	// RenderWait bounds the advisory wait for a busy interactive renderer
	// before OCR touches the first pages.
	RenderWait time.Duration `yaml:"renderWait"`

	// ReadTimeout guards byte source reads during extraction.
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// RebuildTimeout is the watchdog over one document's whole rebuild.
	RebuildTimeout time.Duration `yaml:"rebuildTimeout"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"logLevel"`
}

// Defaults applied by New and LoadConfig.
const (
	DefaultPageCap        = 1200
	DefaultRebuildTimeout = 2 * time.Minute
)

func (c *Config) applyDefaults() {
	if c.PageCap == 0 {
		c.PageCap = DefaultPageCap
	}
	if c.RebuildTimeout <= 0 {
		c.RebuildTimeout = DefaultRebuildTimeout
	}
}

// LoadConfig reads a YAML config file and applies environment overrides.
// An empty path skips the file and uses defaults plus environment.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv overrides fields from PAGESEARCH_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PAGESEARCH_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("PAGESEARCH_INDEX_DIR"); v != "" {
		c.IndexDir = v
	}
	if v := os.Getenv("PAGESEARCH_PAGE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PageCap = n
		}
	}
	if v := os.Getenv("PAGESEARCH_OCR_TARGET_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OCRTargetWidth = n
		}
	}
	if v := os.Getenv("PAGESEARCH_REBUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RebuildTimeout = d
		}
	}
	if v := os.Getenv("PAGESEARCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
