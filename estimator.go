package fetchkit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Quality is the discrete connection quality level derived from the
// smoothed bandwidth estimate.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityPoor
	QualityModerate
	QualityGood
	QualityExcellent
)

func (q Quality) String() string {
	switch q {
	case QualityPoor:
		return "poor"
	case QualityModerate:
		return "moderate"
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// QualityListener receives the new level whenever the classified connection
// quality changes. It runs on a dedicated notifier goroutine, never on the
// goroutine that reported the sample.
type QualityListener func(q Quality)

// Estimator turns per-transfer throughput samples into a stable connection
// quality signal. Samples update an exponential moving average of bandwidth,
// which is classified against fixed thresholds; the registered listener is
// told only when the level changes.
//
// Estimator is safe for concurrent use by multiple goroutines.
type Estimator struct {
	alpha       float64
	minDuration time.Duration
	poor        float64 // bits/sec upper bound for QualityPoor
	moderate    float64
	good        float64
	logger      *zap.Logger

	mu       sync.Mutex
	smoothed float64
	samples  int
	quality  Quality
	listener QualityListener

	notify    chan Quality
	done      chan struct{}
	closeOnce sync.Once
}

// NewEstimator creates an estimator from the given configuration.
func NewEstimator(cfg *Config) *Estimator {
	cfg = cfg.withDefaults()
	e := &Estimator{
		alpha:       cfg.SmoothingFactor,
		minDuration: cfg.MinSampleDuration,
		poor:        float64(cfg.PoorBandwidth),
		moderate:    float64(cfg.ModerateBandwidth),
		good:        float64(cfg.GoodBandwidth),
		logger:      cfg.Logger,
		quality:     QualityUnknown,
		notify:      make(chan Quality, 16),
		done:        make(chan struct{}),
	}
	go e.notifyLoop()
	return e
}

// AddSample records one completed transfer of the given byte count and
// duration. Samples that are too short to be meaningful, or that moved no
// bytes, are discarded without touching the estimate.
func (e *Estimator) AddSample(bytes int64, elapsed time.Duration) {
	if bytes <= 0 || elapsed < e.minDuration {
		return
	}
	instant := float64(bytes*8) / elapsed.Seconds()

	e.mu.Lock()
	if e.samples == 0 {
		e.smoothed = instant
	} else {
		e.smoothed = e.alpha*instant + (1-e.alpha)*e.smoothed
	}
	e.samples++

	q := e.classify(e.smoothed)
	changed := q != e.quality
	if changed {
		e.quality = q
	}
	smoothed := e.smoothed
	e.mu.Unlock()

	if changed {
		e.logger.Debug("connection quality changed",
			zap.Stringer("quality", q),
			zap.Int64("bandwidth_bps", int64(smoothed)))
		select {
		case e.notify <- q:
		case <-e.done:
		default:
			// A listener that cannot keep up misses intermediate levels.
			e.logger.Warn("quality notification dropped", zap.Stringer("quality", q))
		}
	}
}

func (e *Estimator) classify(bps float64) Quality {
	switch {
	case bps <= e.poor:
		return QualityPoor
	case bps <= e.moderate:
		return QualityModerate
	case bps <= e.good:
		return QualityGood
	default:
		return QualityExcellent
	}
}

// Bandwidth returns the smoothed bandwidth estimate in bits per second,
// or zero if no sample has been accepted yet.
func (e *Estimator) Bandwidth() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(e.smoothed)
}

// Quality returns the current quality level.
func (e *Estimator) Quality() Quality {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality
}

// Samples returns the number of accepted samples since the last reset.
func (e *Estimator) Samples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}

// SetListener registers the quality change listener, replacing any previous
// one. At most one listener is registered at a time.
func (e *Estimator) SetListener(l QualityListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// RemoveListener unregisters the quality change listener.
func (e *Estimator) RemoveListener() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = nil
}

// Reset clears the listener and returns the estimate to its uninitialized
// state. Subsequent samples start the moving average fresh.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smoothed = 0
	e.samples = 0
	e.quality = QualityUnknown
	e.listener = nil
}

// Close resets the estimator and stops its notifier goroutine.
func (e *Estimator) Close() {
	e.Reset()
	e.closeOnce.Do(func() { close(e.done) })
}

// notifyLoop delivers level changes to the listener off the sampling
// goroutine. Listener panics are contained here so a misbehaving callback
// cannot corrupt estimator or queue state.
func (e *Estimator) notifyLoop() {
	for {
		select {
		case <-e.done:
			return
		case q := <-e.notify:
			e.mu.Lock()
			l := e.listener
			e.mu.Unlock()
			if l != nil {
				e.invoke(l, q)
			}
		}
	}
}

func (e *Estimator) invoke(l QualityListener, q Quality) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("quality listener panicked", zap.Any("panic", r))
		}
	}()
	l(q)
}
