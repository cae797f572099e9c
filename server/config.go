package quakepulse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

const (
	DefaultFeedURL     = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson"
	DefaultGeometryURL = "https://raw.githubusercontent.com/nvkelso/natural-earth-vector/master/geojson/ne_110m_land.geojson"
	DefaultSpeedFactor = 5000.0
	DefaultWindow      = 24 * time.Hour
	DefaultLeadIn      = 1000 * time.Millisecond
	DefaultFrameRate   = 30
	DefaultTrackLength = 1120.0
	DefaultMapWidth    = 1160
	DefaultMapHeight   = 760
	DefaultStatsAddr   = ":8090"
)

// Config is the on-disk JSON configuration.
// Every value can be overridden by an environment variable, see ApplyEnv.
type Config struct {
	FeedURL     string   `json:"feed_url"`
	GeometryURL string   `json:"geometry_url"` // GeoJSON land polygons, "none" or empty skips the base map
	SpeedFactor float64  `json:"speed_factor"` // real milliseconds per playback millisecond
	Window      Duration `json:"window"`
	LeadIn      Duration `json:"lead_in"`
	FrameRate   int      `json:"frame_rate"`
	TrackLength float64  `json:"track_length"`
	MapWidth    int      `json:"map_width"`
	MapHeight   int      `json:"map_height"`
	StatsAddr   string   `json:"stats_addr"`
	Output      string   `json:"output"`  // none, midi
	Display     string   `json:"display"` // tui, web
	Env         string   `json:"env"`     // dev, prod
	OTel        string   `json:"otel"`    // none, honeycomb, grafana
}

// Duration decodes either a Go duration string ("24h") or a number of milliseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Millisecond))
	case string:
		pd, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = pd
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// DefaultConfig replays the last day at 5000x
func DefaultConfig() Config {
	return Config{
		FeedURL:     DefaultFeedURL,
		GeometryURL: DefaultGeometryURL,
		SpeedFactor: DefaultSpeedFactor,
		Window:      Duration{DefaultWindow},
		LeadIn:      Duration{DefaultLeadIn},
		FrameRate:   DefaultFrameRate,
		TrackLength: DefaultTrackLength,
		MapWidth:    DefaultMapWidth,
		MapHeight:   DefaultMapHeight,
		StatsAddr:   DefaultStatsAddr,
		Output:      "none",
		Display:     "tui",
		Env:         "dev",
		OTel:        "none",
	}
}

// LoadConfigFileName pulls a given filename config off local disk
// Validation is performed on the file before opening
func LoadConfigFileName(filename string) (Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	// validation
	err = validateLoad(file)
	if err != nil {
		slog.Error("Validation failed", slog.Any("Error", err))
		return Config{}, err
	}

	return LoadConfig(file)
}

func validateLoad(file *os.File) error {
	// validate file
	info, err := file.Stat()
	if err != nil {
		slog.Error("could not stat file")
		return err
	}

	// validate size
	if info.Size() == 0 {
		slog.Error("file is empty")
		return errors.New("file is empty")
	}

	return nil
}

// LoadConfig decodes JSON on top of DefaultConfig,
// so a file only needs the keys it changes
func LoadConfig(r io.Reader) (Config, error) {
	config := DefaultConfig()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		slog.Error("could not decode file", slog.Any("Error", err))
		return Config{}, err
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// ApplyEnv overrides config values with any QUAKEPULSE_* variables that are set
func (c *Config) ApplyEnv() {
	if v := FillEnvVar("QUAKEPULSE_FEED_LEVEL"); v != "ENOENT" {
		c.FeedURL = SummaryFeedURL(v)
	}
	if v := FillEnvVar("QUAKEPULSE_FEED_URL"); v != "ENOENT" {
		c.FeedURL = v
	}
	if v := FillEnvVar("QUAKEPULSE_GEOMETRY_URL"); v != "ENOENT" {
		c.GeometryURL = v
	}
	if v := FillEnvVar("QUAKEPULSE_STATS_ADDR"); v != "ENOENT" {
		c.StatsAddr = v
	}
	if v := FillEnvVar("QUAKEPULSE_OUTPUT"); v != "ENOENT" {
		c.Output = v
	}
	if v := FillEnvVar("QUAKEPULSE_DISPLAY"); v != "ENOENT" {
		c.Display = v
	}
	if v := FillEnvVar("QUAKEPULSE_ENV"); v != "ENOENT" {
		c.Env = v
	}
	if v := FillEnvVar("QUAKEPULSE_OTEL"); v != "ENOENT" {
		c.OTel = v
	}
	c.SpeedFactor = FillEnvVarFloat("QUAKEPULSE_SPEED_FACTOR", c.SpeedFactor)
	c.Window.Duration = FillEnvVarDuration("QUAKEPULSE_WINDOW", c.Window.Duration)
	c.LeadIn.Duration = FillEnvVarDuration("QUAKEPULSE_LEAD_IN", c.LeadIn.Duration)
	c.FrameRate = FillEnvVarInt("QUAKEPULSE_FRAME_RATE", c.FrameRate)
	c.TrackLength = FillEnvVarFloat("QUAKEPULSE_TRACK_LENGTH", c.TrackLength)
	c.MapWidth = FillEnvVarInt("QUAKEPULSE_MAP_WIDTH", c.MapWidth)
	c.MapHeight = FillEnvVarInt("QUAKEPULSE_MAP_HEIGHT", c.MapHeight)
}

// Validate rejects values the pipeline cannot run with
func (c Config) Validate() error {
	if err := ValidateSpeedFactor(c.SpeedFactor); err != nil {
		return err
	}
	if c.FeedURL == "" {
		return errors.New("feed_url is required")
	}
	if c.Window.Duration <= 0 {
		return errors.New("window must be positive")
	}
	if c.LeadIn.Duration < 0 {
		return errors.New("lead_in cannot be negative")
	}
	if c.FrameRate <= 0 {
		return errors.New("frame_rate must be positive")
	}
	if c.MapWidth <= 0 || c.MapHeight <= 0 {
		return errors.New("map dimensions must be positive")
	}
	return nil
}
