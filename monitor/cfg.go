package monitor

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the recording settings of a monitor
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"MonitorAddr"`

	// Interval is the time between snapshots, e.g. "10s"
	Interval string `yaml:"Interval"`

	// Capacity is the number of samples retained per instrument
	Capacity int `yaml:"Capacity"`

	// PollHz bounds instrument snapshots per second across all sources
	PollHz float64 `yaml:"PollHz"`
}

// DefaultConfig records every ten seconds, keeps a day of samples and
// polls no faster than ten instruments per second
func DefaultConfig() Config {
	return Config{
		Addr:     ":8100",
		Interval: "10s",
		Capacity: 8640,
		PollHz:   10,
	}
}

// Tick parses the interval string
func (c Config) Tick() (time.Duration, error) {
	return time.ParseDuration(c.Interval)
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}
