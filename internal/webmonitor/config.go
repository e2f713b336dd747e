package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration
	MaxWidth       int
	MaxHeight      int
	JPEGQuality    int
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: 500 * time.Millisecond,
		MaxWidth:       640,
		MaxHeight:      480,
		JPEGQuality:    75,
	}
}
