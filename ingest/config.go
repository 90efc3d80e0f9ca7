package ingest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/tripsync/ingest/internal/extract"
	"github.com/hazyhaar/tripsync/ingest/internal/fetch"
	"github.com/hazyhaar/tripsync/ingest/internal/geo"
	"github.com/hazyhaar/tripsync/ingest/internal/pipeline"
	"github.com/hazyhaar/tripsync/ingest/internal/reconcile"
	"github.com/hazyhaar/tripsync/ingest/internal/scheduler"
)

// Built-in sources used when the registry has none of a type.
var (
	DefaultCalendarURLs = []string{
		"https://api2.luma.com/ics/get?entity=calendar&id=cal-kC1rltFkxqfbHcB",
		"https://api2.luma.com/ics/get?entity=discover&id=discplace-BDj7GNbGlsF7Cka",
	}
	DefaultCornerListURL = "https://www.corner.inc/list/e65af393-70dd-46d5-948a-d774f472d2ee"
)

// MaxAddressLen caps geocode lookups from the public endpoint.
const MaxAddressLen = 300

// Config configures the ingestion service.
type Config struct {
	// DataDir holds the local cache files. Default: "data".
	DataDir string `yaml:"data_dir"`

	CalendarURLs   []string `yaml:"calendar_urls"`
	SpotSourceURLs []string `yaml:"spot_source_urls"`

	// MissedSyncThreshold is the number of consecutive absent runs before a
	// record is soft-deleted. Default: 2.
	MissedSyncThreshold int `yaml:"missed_sync_threshold"`

	Fetch     fetch.Config       `yaml:"fetch"`
	RSS       pipeline.RSSConfig `yaml:"rss"`
	Extract   extract.Config     `yaml:"extract"`
	Geo       GeoConfig          `yaml:"geo"`
	Scheduler scheduler.Config   `yaml:"scheduler"`
}

// GeoConfig configures coordinate resolution.
type GeoConfig struct {
	APIKey        string `yaml:"-"`
	Endpoint      string `yaml:"endpoint"`
	RouteCacheMax int    `yaml:"route_cache_max"`
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if len(c.CalendarURLs) == 0 {
		c.CalendarURLs = append([]string(nil), DefaultCalendarURLs...)
	}
	if len(c.SpotSourceURLs) == 0 {
		c.SpotSourceURLs = []string{DefaultCornerListURL}
	}
	c.MissedSyncThreshold = reconcile.Threshold(c.MissedSyncThreshold)
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "tripsync/1.0"
	}
	c.RSS.Defaults()
	if c.Geo.RouteCacheMax <= 0 {
		c.Geo.RouteCacheMax = geo.DefaultRouteCacheMax
	}
}

// LoadConfigFile reads a YAML config. Secrets (API keys) are not read from
// the file; set them from the environment.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("ingest: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("ingest: parse config %s: %w", path, err)
	}
	return cfg, nil
}
