package audio

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser defaults mirror the usual browser AnalyserNode configuration so
// that the "loud" threshold behaves the same on a Go host.
const (
	DefaultFFTSize        = 256
	DefaultMinDecibels    = -100.0
	DefaultMaxDecibels    = -30.0
	DefaultSmoothing      = 0.8
	DefaultLoudThreshold  = 30.0 / 255.0
	DefaultLoudInterval   = 16 * time.Millisecond
	DefaultVolumeWindow   = 2048
	DefaultVolumeInterval = 100 * time.Millisecond
	pcmFullScale          = 32768.0
)

// ── Local loudness meter ────────────────────────────────────────────────────

// LoudnessOption configures a [LoudnessMeter].
type LoudnessOption func(*LoudnessMeter)

// WithLoudThreshold sets the mean normalised bin magnitude (0..1) above which
// the meter reports loud.
func WithLoudThreshold(t float64) LoudnessOption {
	return func(m *LoudnessMeter) { m.threshold = t }
}

// WithFFTSize overrides the analysis window length. Must be a power of two.
func WithFFTSize(n int) LoudnessOption {
	return func(m *LoudnessMeter) { m.size = n }
}

// LoudnessMeter is a spectrum analyser over the most recent captured samples.
// It reports whether the mean magnitude across frequency bins exceeds a
// threshold. The signal is advisory UI feedback.
//
// Write may be called from the capture goroutine while Start samples on its
// own ticker; all methods are safe for concurrent use.
type LoudnessMeter struct {
	size      int
	threshold float64

	mu     sync.Mutex
	fft    *fourier.FFT
	win    []float64
	ring   []float64
	pos    int
	seq    []float64
	coeffs []complex128
	smooth []float64
	loud   bool

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewLoudnessMeter creates a meter with a Blackman-windowed FFT.
func NewLoudnessMeter(opts ...LoudnessOption) *LoudnessMeter {
	m := &LoudnessMeter{
		size:      DefaultFFTSize,
		threshold: DefaultLoudThreshold,
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}

	m.fft = fourier.NewFFT(m.size)
	m.win = make([]float64, m.size)
	for i := range m.win {
		m.win[i] = 1
	}
	window.Blackman(m.win)
	m.ring = make([]float64, m.size)
	m.seq = make([]float64, m.size)
	m.smooth = make([]float64, m.size/2)
	return m
}

// Write feeds a captured frame into the analysis window. Stereo frames are
// downmixed.
func (m *LoudnessMeter) Write(frame AudioFrame) {
	samples := monoFloats(frame)
	m.mu.Lock()
	for _, s := range samples {
		m.ring[m.pos] = s
		m.pos = (m.pos + 1) % len(m.ring)
	}
	m.mu.Unlock()
}

// Sample runs one analysis pass and returns the updated loud flag.
func (m *LoudnessMeter) Sample() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.ring)
	for i := range n {
		m.seq[i] = m.ring[(m.pos+i)%n] * m.win[i]
	}
	m.coeffs = m.fft.Coefficients(m.coeffs, m.seq)

	var sum float64
	for k := range m.smooth {
		mag := cmplx.Abs(m.coeffs[k]) / float64(n)
		m.smooth[k] = DefaultSmoothing*m.smooth[k] + (1-DefaultSmoothing)*mag
		sum += scaleDecibels(m.smooth[k])
	}
	m.loud = sum/float64(len(m.smooth)) > m.threshold
	return m.loud
}

// Loud reports the result of the most recent Sample.
func (m *LoudnessMeter) Loud() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loud
}

// Start samples every interval until Close, calling onChange whenever the
// loud flag flips. onChange may be nil.
func (m *LoudnessMeter) Start(interval time.Duration, onChange func(loud bool)) {
	if interval <= 0 {
		interval = DefaultLoudInterval
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		prev := false
		for {
			select {
			case <-m.stop:
				return
			case <-t.C:
				loud := m.Sample()
				if loud != prev && onChange != nil {
					onChange(loud)
				}
				prev = loud
			}
		}
	}()
}

// Close stops sampling and clears the loud flag. Safe to call more than once.
func (m *LoudnessMeter) Close() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
	m.mu.Lock()
	m.loud = false
	m.mu.Unlock()
}

// scaleDecibels maps a linear magnitude onto 0..1 between the analyser's
// min and max decibels.
func scaleDecibels(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - DefaultMinDecibels) / (DefaultMaxDecibels - DefaultMinDecibels)
	return math.Max(0, math.Min(1, v))
}

// ── Remote volume meter ─────────────────────────────────────────────────────

// VolumeMeter computes RMS loudness (0..1) over the most recent inbound
// samples. A sample interval with no new audio reads as silence.
type VolumeMeter struct {
	mu     sync.Mutex
	ring   []float64
	pos    int
	filled int
	fresh  bool
	level  float64

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewVolumeMeter creates a meter over a window of size samples. Zero selects
// [DefaultVolumeWindow].
func NewVolumeMeter(size int) *VolumeMeter {
	if size <= 0 {
		size = DefaultVolumeWindow
	}
	return &VolumeMeter{ring: make([]float64, size), stop: make(chan struct{})}
}

// Write feeds decoded inbound PCM into the window.
func (m *VolumeMeter) Write(frame AudioFrame) {
	samples := monoFloats(frame)
	if len(samples) == 0 {
		return
	}
	m.mu.Lock()
	for _, s := range samples {
		m.ring[m.pos] = s
		m.pos = (m.pos + 1) % len(m.ring)
	}
	m.filled = min(m.filled+len(samples), len(m.ring))
	m.fresh = true
	m.mu.Unlock()
}

// Sample computes the RMS of the window and stores it as the current level.
func (m *VolumeMeter) Sample() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fresh || m.filled == 0 {
		m.level = 0
		return 0
	}
	m.fresh = false

	var sum float64
	n := len(m.ring)
	for i := range m.filled {
		s := m.ring[(m.pos-1-i+n)%n]
		sum += s * s
	}
	m.level = math.Min(1, math.Sqrt(sum/float64(m.filled)))
	return m.level
}

// Level reports the most recent sampled RMS.
func (m *VolumeMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Start samples every interval until Close, passing each level to onLevel.
func (m *VolumeMeter) Start(interval time.Duration, onLevel func(float64)) {
	if interval <= 0 {
		interval = DefaultVolumeInterval
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-t.C:
				v := m.Sample()
				if onLevel != nil {
					onLevel(v)
				}
			}
		}
	}()
}

// Close cancels sampling and zeroes the level. Safe to call more than once.
func (m *VolumeMeter) Close() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
	m.mu.Lock()
	m.level = 0
	m.mu.Unlock()
}

func monoFloats(frame AudioFrame) []float64 {
	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	out := make([]float64, len(pcm)/2)
	for i := range out {
		out[i] = float64(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / pcmFullScale
	}
	return out
}
