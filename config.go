package fetchkit

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Defaults applied by withDefaults. The bandwidth thresholds follow the
// commonly used 150/550/2000 kbps connection classification scale.
const (
	DefaultUserAgent         = "fetchkit/1.0"
	DefaultWorkers           = 4
	DefaultCacheCapacity     = 8 << 20 // 8 MiB
	DefaultSmoothingFactor   = 0.1
	DefaultMinSampleDuration = 10 * time.Millisecond

	DefaultPoorBandwidth     = 150_000   // bits/sec
	DefaultModerateBandwidth = 550_000   // bits/sec
	DefaultGoodBandwidth     = 2_000_000 // bits/sec
)

// Config configures a Client.
type Config struct {
	// UserAgent is prepended to outgoing requests.
	// Default: "fetchkit/1.0"
	UserAgent string

	// Workers is the number of transfers allowed to run concurrently.
	// Default: 4
	Workers int

	// CacheCapacity is the in-memory response cache budget in bytes.
	// Default: 8 MiB
	CacheCapacity int64

	// SmoothingFactor is the EMA weight given to each new bandwidth
	// sample. Small values favor stability over reactivity.
	// Default: 0.1
	SmoothingFactor float64

	// MinSampleDuration discards transfer samples shorter than this,
	// which would otherwise report artificial throughput.
	// Default: 10ms
	MinSampleDuration time.Duration

	// PoorBandwidth, ModerateBandwidth, and GoodBandwidth are the upper
	// bounds, in bits/sec, of the corresponding quality levels. Anything
	// above GoodBandwidth classifies as excellent.
	PoorBandwidth     int64
	ModerateBandwidth int64
	GoodBandwidth     int64

	// HTTPClient performs the actual transfers.
	// Default: http.DefaultClient
	HTTPClient *http.Client

	// Executor overrides the HTTP execution primitive entirely. When set,
	// HTTPClient is ignored.
	Executor Executor

	// Logger receives structured debug logging.
	// Default: zap.NewNop()
	Logger *zap.Logger

	// Clock is the time source used for transfer timing. Swap in a mock
	// clock in tests.
	// Default: clock.New()
	Clock clock.Clock

	// Registerer enables prometheus metrics when set.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		UserAgent:         DefaultUserAgent,
		Workers:           DefaultWorkers,
		CacheCapacity:     DefaultCacheCapacity,
		SmoothingFactor:   DefaultSmoothingFactor,
		MinSampleDuration: DefaultMinSampleDuration,
		PoorBandwidth:     DefaultPoorBandwidth,
		ModerateBandwidth: DefaultModerateBandwidth,
		GoodBandwidth:     DefaultGoodBandwidth,
	}
}

// withDefaults returns a new config with defaults applied for zero values.
func (c *Config) withDefaults() *Config {
	if c == nil {
		c = DefaultConfig()
	}

	cfg := *c

	// An empty UserAgent is intentional and preserved.
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.SmoothingFactor <= 0 || cfg.SmoothingFactor >= 1 {
		cfg.SmoothingFactor = DefaultSmoothingFactor
	}
	if cfg.MinSampleDuration <= 0 {
		cfg.MinSampleDuration = DefaultMinSampleDuration
	}
	if cfg.PoorBandwidth <= 0 {
		cfg.PoorBandwidth = DefaultPoorBandwidth
	}
	if cfg.ModerateBandwidth <= 0 {
		cfg.ModerateBandwidth = DefaultModerateBandwidth
	}
	if cfg.GoodBandwidth <= 0 {
		cfg.GoodBandwidth = DefaultGoodBandwidth
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &cfg
}
