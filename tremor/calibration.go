package tremor

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrCalibrationActive is returned when a second session is started.
	ErrCalibrationActive = errors.New("calibration already in progress")
	// ErrNoCalibration is returned when no session is running.
	ErrNoCalibration = errors.New("no calibration in progress")
)

// Failure reasons reported on CalibrationResult.
const (
	CalibrationCancelled           = "cancelled"
	CalibrationInsufficientSamples = "insufficient samples"
)

// CalibrationProgress is the state reported after each calibration step.
type CalibrationProgress struct {
	Active           bool               `json:"active"`
	Fraction         float64            `json:"fraction"`
	SamplesCollected int                `json:"samplesCollected"`
	SamplesRequired  int                `json:"samplesRequired"`
	SecondsRemaining float64            `json:"secondsRemaining"`
	Result           *CalibrationResult `json:"result,omitempty"`
}

// Done reports whether this step finished the session.
func (p CalibrationProgress) Done() bool {
	return p.Result != nil
}

// CalibrationResult is reported exactly once per session.
type CalibrationResult struct {
	Success           bool      `json:"success"`
	BaselineMagnitude float64   `json:"baselineMagnitude"`
	BaselineVariance  float64   `json:"baselineVariance"`
	SamplesCollected  int       `json:"samplesCollected"`
	Reason            string    `json:"reason,omitempty"`
	CompletedAt       time.Time `json:"completedAt"`
}

// CalibrationListener observes a calibration session. It never influences
// the session; callbacks run on the caller's goroutine after the tracker lock
// is released.
type CalibrationListener interface {
	OnCalibrationProgress(progress CalibrationProgress)
	OnCalibrationComplete(result CalibrationResult)
}

type calibrationSession struct {
	listener  CalibrationListener
	startedAt time.Time
	duration  time.Duration
	required  int

	count int
	mean  float64
	m2    float64
}

func (c *calibrationSession) add(x float64) {
	c.count++
	delta := x - c.mean
	c.mean += delta / float64(c.count)
	c.m2 += delta * (x - c.mean)
}

func (c *calibrationSession) variance() float64 {
	if c.count == 0 {
		return 0
	}
	return c.m2 / float64(c.count)
}

func (c *calibrationSession) progress(now time.Time) CalibrationProgress {
	elapsed := now.Sub(c.startedAt)
	fraction := 1.0
	if c.duration > 0 {
		fraction = clamp01(float64(elapsed) / float64(c.duration))
	}
	return CalibrationProgress{
		Active:           true,
		Fraction:         fraction,
		SamplesCollected: c.count,
		SamplesRequired:  c.required,
		SecondsRemaining: math.Max(0, (c.duration - elapsed).Seconds()),
	}
}

// StartCalibration opens a calibration session. listener may be nil.
func (t *BaselineTracker) StartCalibration(listener CalibrationListener) (CalibrationProgress, error) {
	cfg := t.configs.Current().Baseline

	t.mu.Lock()
	if t.calibration != nil {
		t.mu.Unlock()
		return CalibrationProgress{}, ErrCalibrationActive
	}
	session := &calibrationSession{
		listener:  listener,
		startedAt: t.now(),
		duration:  time.Duration(cfg.CalibrationSeconds * float64(time.Second)),
		required:  cfg.CalibrationSamplesRequired,
	}
	t.calibration = session
	progress := session.progress(session.startedAt)
	t.mu.Unlock()

	if listener != nil {
		listener.OnCalibrationProgress(progress)
	}
	return progress, nil
}

// CalibrationActive reports whether a session is running.
func (t *BaselineTracker) CalibrationActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calibration != nil
}

// ProcessCalibrationSample adds one raw magnitude to the running session and
// returns its progress. When the duration has elapsed the session finishes
// and the returned progress carries the result. Non-finite samples are
// dropped without counting.
func (t *BaselineTracker) ProcessCalibrationSample(magnitude float64) (CalibrationProgress, error) {
	t.mu.Lock()
	session := t.calibration
	if session == nil {
		t.mu.Unlock()
		return CalibrationProgress{}, ErrNoCalibration
	}
	if finite(magnitude) {
		session.add(magnitude)
	}
	now := t.now()
	progress := session.progress(now)
	if now.Sub(session.startedAt) >= session.duration {
		result := t.finishCalibrationLocked(session, now)
		progress.Active = false
		progress.Result = &result
	}
	t.mu.Unlock()

	t.notify(session.listener, progress)
	return progress, nil
}

// CheckCalibrationTimeout finishes a session whose duration elapsed without
// further samples arriving. It returns ErrNoCalibration when idle.
func (t *BaselineTracker) CheckCalibrationTimeout() (CalibrationProgress, error) {
	t.mu.Lock()
	session := t.calibration
	if session == nil {
		t.mu.Unlock()
		return CalibrationProgress{}, ErrNoCalibration
	}
	now := t.now()
	progress := session.progress(now)
	if now.Sub(session.startedAt) < session.duration {
		t.mu.Unlock()
		return progress, nil
	}
	result := t.finishCalibrationLocked(session, now)
	progress.Active = false
	progress.Result = &result
	t.mu.Unlock()

	t.notify(session.listener, progress)
	return progress, nil
}

// CancelCalibration aborts the running session and reports failure with zero
// values. It returns ErrNoCalibration when idle.
func (t *BaselineTracker) CancelCalibration() (CalibrationResult, error) {
	t.mu.Lock()
	session := t.calibration
	if session == nil {
		t.mu.Unlock()
		return CalibrationResult{}, ErrNoCalibration
	}
	t.calibration = nil
	result := CalibrationResult{
		SamplesCollected: session.count,
		Reason:           CalibrationCancelled,
		CompletedAt:      t.now(),
	}
	t.mu.Unlock()

	if session.listener != nil {
		session.listener.OnCalibrationComplete(result)
	}
	return result, nil
}

func (t *BaselineTracker) finishCalibrationLocked(session *calibrationSession, now time.Time) CalibrationResult {
	t.calibration = nil
	result := CalibrationResult{
		SamplesCollected: session.count,
		CompletedAt:      now,
	}
	if session.count < session.required {
		result.Reason = CalibrationInsufficientSamples
		return result
	}

	result.Success = true
	result.BaselineMagnitude = session.mean
	result.BaselineVariance = session.variance()

	minSamples := t.configs.Current().Baseline.MinSamples
	count := t.resting.SampleCount
	if count < minSamples {
		count = minSamples
	}
	t.resting.Magnitude = result.BaselineMagnitude
	t.resting.MagnitudeVariance = result.BaselineVariance
	t.resting.SampleCount = count
	t.calibrationComplete = true
	t.calibrationAt = now
	return result
}

func (t *BaselineTracker) notify(listener CalibrationListener, progress CalibrationProgress) {
	if progress.Result != nil && progress.Result.Success {
		t.Flush()
	}
	if listener == nil {
		return
	}
	listener.OnCalibrationProgress(progress)
	if progress.Result != nil {
		listener.OnCalibrationComplete(*progress.Result)
	}
}
