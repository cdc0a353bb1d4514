package dsp

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/filter"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/domain"
)

const (
	MinVolumeDB = -60.0
	MaxVolumeDB = 12.0

	// allChannels in a channel mask means "every channel".
	allChannels uint32 = 0
)

type volumeSnapshot struct {
	gainDB float64
	gain   float32
	muted  bool
	mask   uint32
}

// Volume applies a gain in dB, optionally to a subset of channels. Gain
// changes ramp linearly over one chunk.
type Volume struct {
	base

	mu   sync.Mutex
	snap atomic.Pointer[volumeSnapshot]

	current  float32
	channels int
}

func NewVolume() *Volume {
	v := &Volume{}
	v.setup(EffectVolume, "Volume", "Output gain", 1, withCommon(
		ConfigParam{Name: "gain_db", Description: "Gain (dB)", Default: 0, Min: MinVolumeDB, Max: MaxVolumeDB, Step: 0.1},
		ConfigParam{Name: "mute", Description: "Mute", Default: 0, Min: 0, Max: 1, Step: 1},
		ConfigParam{Name: "channel_mask", Description: "Channel Mask (0 = all)", Default: 0, Min: 0, Max: math.MaxUint32, Step: 1},
	))
	v.snap.Store(&volumeSnapshot{gain: 1})
	v.current = 1
	return v
}

func (v *Volume) edit(fn func(s *volumeSnapshot)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := *v.snap.Load()
	fn(&next)
	next.gainDB = clamp(next.gainDB, MinVolumeDB, MaxVolumeDB)
	next.gain = float32(filter.DBToLinear(next.gainDB))
	if next.muted {
		next.gain = 0
	}
	v.snap.Store(&next)
}

// SetGainDB sets the gain, clamped to [-60, +12] dB.
func (v *Volume) SetGainDB(db float64) { v.edit(func(s *volumeSnapshot) { s.gainDB = db }) }
func (v *Volume) GainDB() float64      { return v.snap.Load().gainDB }
func (v *Volume) SetMuted(m bool)      { v.edit(func(s *volumeSnapshot) { s.muted = m }) }
func (v *Volume) Muted() bool          { return v.snap.Load().muted }

// SetChannelMask limits the gain to the channels whose bits are set. Zero
// selects every channel.
func (v *Volume) SetChannelMask(mask uint32) {
	v.edit(func(s *volumeSnapshot) { s.mask = mask })
}

// ChannelMask reports the channels Run writes to.
func (v *Volume) ChannelMask(channels int) uint32 {
	full := fullMask(channels)
	mask := v.snap.Load().mask
	if mask == allChannels {
		return full
	}
	return mask & full
}

func (v *Volume) Params() EffectParams   { return v.params(0) }
func (v *Volume) Latency() time.Duration { return 0 }
func (v *Volume) Validate() error        { return nil }

func (v *Volume) Instantiate(format chunk.Format) error {
	if err := v.checkFormat(format); err != nil {
		return err
	}
	v.channels = format.Channels
	v.current = v.snap.Load().gain
	v.instantiated(format)
	return nil
}

func (v *Volume) Run(c *chunk.Chunk) {
	if !v.active(c) {
		return
	}
	target := v.snap.Load().gain
	mask := v.ChannelMask(v.channels)
	start := v.current
	v.current = target

	if start == target {
		if target == 1 {
			return
		}
		if mask == fullMask(v.channels) {
			c.ApplyGain(target)
			return
		}
	}

	data := c.Data()
	frames := c.Frames()
	step := (target - start) / float32(frames)
	for ch := 0; ch < v.channels; ch++ {
		if mask&(1<<ch) == 0 {
			continue
		}
		g := start
		for i := ch; i < len(data); i += v.channels {
			g += step
			data[i] *= g
		}
	}
}

func (v *Volume) Reset() {
	v.current = v.snap.Load().gain
	v.resetState()
}

func (v *Volume) SetParam(name string, value float64) error {
	if v.setCommon(name, value) {
		return nil
	}
	x, err := v.resolve(name, value)
	if err != nil {
		return err
	}
	switch name {
	case "gain_db":
		v.SetGainDB(x)
	case "mute":
		v.SetMuted(x >= 0.5)
	case "channel_mask":
		v.SetChannelMask(uint32(x))
	}
	return nil
}

func (v *Volume) Param(name string) (float64, bool) {
	if x, ok := v.common(name); ok {
		return x, true
	}
	s := v.snap.Load()
	switch name {
	case "gain_db":
		return s.gainDB, true
	case "mute":
		return boolFloat(s.muted), true
	case "channel_mask":
		return float64(s.mask), true
	}
	return 0, false
}

func (v *Volume) GetPreset(p *preset.Preset) {
	s := v.snap.Load()
	v.writePreset(p)
	p.SetFloat("gain_db", s.gainDB)
	p.SetFloat("mute", boolFloat(s.muted))
	p.SetFloat("channel_mask", float64(s.mask))
}

func (v *Volume) SetPreset(p *preset.Preset) error {
	if err := v.checkPreset(p); err != nil {
		return err
	}
	v.edit(func(s *volumeSnapshot) {
		s.gainDB = p.FloatOr("gain_db", s.gainDB)
		s.muted = p.FloatOr("mute", boolFloat(s.muted)) >= 0.5
		s.mask = uint32(clamp(p.FloatOr("channel_mask", float64(s.mask)), 0, math.MaxUint32))
	})
	v.readCommon(p)
	return nil
}

func fullMask(channels int) uint32 {
	if channels >= 32 {
		return math.MaxUint32
	}
	return uint32(1)<<channels - 1
}

func overlaps(a, b uint32) bool { return a&b != 0 }

const (
	MinLimiterThreshold = -20.0
	MaxLimiterThreshold = 0.0
	MinLimiterRelease   = 1.0
	MaxLimiterRelease   = 500.0

	limiterAttackMS = 1.0
	limiterRatio    = 10.0
)

type limiterSnapshot struct {
	thresholdDB float64
	releaseMS   float64
	version     uint64
}

// Limiter is a stereo-linked peak limiter. The envelope follows the loudest
// channel of each frame, so the stereo image is kept while limiting.
type Limiter struct {
	base

	mu      sync.Mutex
	snap    atomic.Pointer[limiterSnapshot]
	version uint64

	// reduction holds the last gain reduction in dB as float64 bits.
	reduction atomic.Uint64

	sampleRate   int
	channels     int
	applied      uint64
	envelope     float64
	attackCoeff  float64
	releaseCoeff float64
	threshold    float64
}

func NewLimiter() *Limiter {
	l := &Limiter{}
	l.setup(EffectLimiter, "Limiter", "Peak limiter", 10, withCommon(
		ConfigParam{Name: "threshold", Description: "Threshold (dB)", Default: -3, Min: MinLimiterThreshold, Max: MaxLimiterThreshold, Step: 0.1},
		ConfigParam{Name: "release", Description: "Release (ms)", Default: 50, Min: MinLimiterRelease, Max: MaxLimiterRelease, Step: 1},
	))
	l.publish(-3, 50)
	return l
}

func (l *Limiter) publish(thresholdDB, releaseMS float64) {
	l.version++
	l.snap.Store(&limiterSnapshot{
		thresholdDB: clamp(thresholdDB, MinLimiterThreshold, MaxLimiterThreshold),
		releaseMS:   clamp(releaseMS, MinLimiterRelease, MaxLimiterRelease),
		version:     l.version,
	})
}

func (l *Limiter) SetThreshold(db float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publish(db, l.snap.Load().releaseMS)
}

func (l *Limiter) SetRelease(ms float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publish(l.snap.Load().thresholdDB, ms)
}

func (l *Limiter) Threshold() float64 { return l.snap.Load().thresholdDB }
func (l *Limiter) Release() float64   { return l.snap.Load().releaseMS }

// GainReduction is the reduction applied to the last processed frame, in dB
// (zero or negative).
func (l *Limiter) GainReduction() float64 {
	return math.Float64frombits(l.reduction.Load())
}

func (l *Limiter) Params() EffectParams   { return l.params(0) }
func (l *Limiter) Latency() time.Duration { return 0 }
func (l *Limiter) Validate() error        { return nil }

func (l *Limiter) Instantiate(format chunk.Format) error {
	if err := l.checkFormat(format); err != nil {
		return err
	}
	l.sampleRate = format.SampleRate
	l.channels = format.Channels
	l.applied = 0
	l.envelope = 0
	l.instantiated(format)
	return nil
}

func (l *Limiter) configure(s *limiterSnapshot) {
	rate := float64(l.sampleRate)
	l.attackCoeff = math.Exp(-1 / (limiterAttackMS / 1000 * rate))
	l.releaseCoeff = math.Exp(-1 / (s.releaseMS / 1000 * rate))
	l.threshold = filter.DBToLinear(s.thresholdDB)
	l.applied = s.version
}

func (l *Limiter) Run(c *chunk.Chunk) {
	if !l.active(c) {
		return
	}
	s := l.snap.Load()
	if l.applied != s.version {
		l.configure(s)
	}

	data := c.Data()
	channels := l.channels
	reduction := 0.0
	for i := 0; i+channels <= len(data); i += channels {
		frame := data[i : i+channels]
		peak := 0.0
		for _, x := range frame {
			peak = max(peak, math.Abs(float64(x)))
		}

		coeff := l.releaseCoeff
		if peak > l.envelope {
			coeff = l.attackCoeff
		}
		l.envelope = peak + (l.envelope-peak)*coeff

		if l.envelope <= l.threshold {
			reduction = 0
			continue
		}
		over := filter.LinearToDB(l.envelope / l.threshold)
		reduction = -over * (1 - 1/limiterRatio)
		g := float32(filter.DBToLinear(reduction))
		for j := range frame {
			frame[j] = clipSample(frame[j] * g)
		}
	}
	l.reduction.Store(math.Float64bits(reduction))
}

func (l *Limiter) Reset() {
	l.envelope = 0
	l.reduction.Store(0)
	l.resetState()
}

func (l *Limiter) SetParam(name string, value float64) error {
	if l.setCommon(name, value) {
		return nil
	}
	v, err := l.resolve(name, value)
	if err != nil {
		return err
	}
	switch name {
	case "threshold":
		l.SetThreshold(v)
	case "release":
		l.SetRelease(v)
	}
	return nil
}

func (l *Limiter) Param(name string) (float64, bool) {
	if v, ok := l.common(name); ok {
		return v, true
	}
	switch name {
	case "threshold":
		return l.Threshold(), true
	case "release":
		return l.Release(), true
	}
	return 0, false
}

func (l *Limiter) GetPreset(p *preset.Preset) {
	l.writePreset(p)
	p.SetFloat("threshold", l.Threshold())
	p.SetFloat("release", l.Release())
}

func (l *Limiter) SetPreset(p *preset.Preset) error {
	if err := l.checkPreset(p); err != nil {
		return err
	}
	l.mu.Lock()
	s := l.snap.Load()
	l.publish(p.FloatOr("threshold", s.thresholdDB), p.FloatOr("release", s.releaseMS))
	l.mu.Unlock()
	l.readCommon(p)
	return nil
}

func clipSample(x float32) float32 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}

// ReplayGainMode picks which stored gain is applied.
type ReplayGainMode int

const (
	ReplayGainOff ReplayGainMode = iota
	ReplayGainTrack
	ReplayGainAlbum
)

func (m ReplayGainMode) String() string {
	switch m {
	case ReplayGainTrack:
		return "track"
	case ReplayGainAlbum:
		return "album"
	default:
		return "off"
	}
}

func ParseReplayGainMode(s string) (ReplayGainMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return ReplayGainOff, nil
	case "track":
		return ReplayGainTrack, nil
	case "album":
		return ReplayGainAlbum, nil
	}
	return ReplayGainOff, fmt.Errorf("%w: replay gain mode %q", domain.ErrInvalidParameter, s)
}

const (
	MinReplayGainPreAmp = -15.0
	MaxReplayGainPreAmp = 15.0
	maxReplayGainDB     = 30.0
)

type replayGainSnapshot struct {
	mode            ReplayGainMode
	preAmp          float64
	trackGain       float64
	trackPeak       float64
	albumGain       float64
	albumPeak       float64
	preventClipping bool
	gain            float32
}

// linear resolves the gain for the active mode. With clipping prevention
// the gain is capped so the stored peak lands at full scale.
func (s *replayGainSnapshot) linear() float32 {
	var gain, peak float64
	switch s.mode {
	case ReplayGainTrack:
		gain, peak = s.trackGain, s.trackPeak
	case ReplayGainAlbum:
		gain, peak = s.albumGain, s.albumPeak
	default:
		return 1
	}
	g := filter.DBToLinear(gain + s.preAmp)
	if s.preventClipping && peak > 0 && g*peak > 1 {
		g = 1 / peak
	}
	return float32(g)
}

// ReplayGain normalises loudness from gain and peak values read from the
// track's tags.
type ReplayGain struct {
	base

	mu   sync.Mutex
	snap atomic.Pointer[replayGainSnapshot]
}

func NewReplayGain() *ReplayGain {
	r := &ReplayGain{}
	r.setup(EffectReplayGain, "ReplayGain", "Replay gain normalization", 1, withCommon(
		ConfigParam{Name: "mode", Description: "Mode (0 off, 1 track, 2 album)", Default: 1, Min: 0, Max: 2, Step: 1},
		ConfigParam{Name: "preamp", Description: "Pre-amp (dB)", Default: 0, Min: MinReplayGainPreAmp, Max: MaxReplayGainPreAmp, Step: 0.5},
		ConfigParam{Name: "prevent_clipping", Description: "Prevent Clipping", Default: 1, Min: 0, Max: 1, Step: 1},
		ConfigParam{Name: "track_gain", Description: "Track Gain (dB)", Default: 0, Min: -maxReplayGainDB, Max: maxReplayGainDB, Step: 0.01},
		ConfigParam{Name: "track_peak", Description: "Track Peak", Default: 0, Min: 0, Max: 10, Step: 0.0001},
		ConfigParam{Name: "album_gain", Description: "Album Gain (dB)", Default: 0, Min: -maxReplayGainDB, Max: maxReplayGainDB, Step: 0.01},
		ConfigParam{Name: "album_peak", Description: "Album Peak", Default: 0, Min: 0, Max: 10, Step: 0.0001},
	))
	s := &replayGainSnapshot{mode: ReplayGainTrack, preventClipping: true}
	s.gain = s.linear()
	r.snap.Store(s)
	return r
}

func (r *ReplayGain) edit(fn func(s *replayGainSnapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := *r.snap.Load()
	fn(&next)
	if next.mode < ReplayGainOff || next.mode > ReplayGainAlbum {
		next.mode = ReplayGainOff
	}
	next.preAmp = clamp(next.preAmp, MinReplayGainPreAmp, MaxReplayGainPreAmp)
	next.trackGain = clamp(next.trackGain, -maxReplayGainDB, maxReplayGainDB)
	next.albumGain = clamp(next.albumGain, -maxReplayGainDB, maxReplayGainDB)
	next.trackPeak = math.Max(next.trackPeak, 0)
	next.albumPeak = math.Max(next.albumPeak, 0)
	next.gain = next.linear()
	r.snap.Store(&next)
}

// SetTrackGain stores the track gain in dB and its linear peak.
func (r *ReplayGain) SetTrackGain(gain, peak float64) {
	r.edit(func(s *replayGainSnapshot) { s.trackGain, s.trackPeak = gain, peak })
}

// SetAlbumGain stores the album gain in dB and its linear peak.
func (r *ReplayGain) SetAlbumGain(gain, peak float64) {
	r.edit(func(s *replayGainSnapshot) { s.albumGain, s.albumPeak = gain, peak })
}

func (r *ReplayGain) SetMode(m ReplayGainMode) { r.edit(func(s *replayGainSnapshot) { s.mode = m }) }
func (r *ReplayGain) Mode() ReplayGainMode     { return r.snap.Load().mode }
func (r *ReplayGain) SetPreAmp(db float64)     { r.edit(func(s *replayGainSnapshot) { s.preAmp = db }) }
func (r *ReplayGain) PreAmp() float64          { return r.snap.Load().preAmp }

func (r *ReplayGain) SetPreventClipping(b bool) {
	r.edit(func(s *replayGainSnapshot) { s.preventClipping = b })
}

// Gain is the linear gain Run applies.
func (r *ReplayGain) Gain() float64 { return float64(r.snap.Load().gain) }

// ClearGains forgets the stored tag values, e.g. between tracks.
func (r *ReplayGain) ClearGains() {
	r.edit(func(s *replayGainSnapshot) {
		s.trackGain, s.trackPeak, s.albumGain, s.albumPeak = 0, 0, 0, 0
	})
}

func (r *ReplayGain) Params() EffectParams   { return r.params(0) }
func (r *ReplayGain) Latency() time.Duration { return 0 }
func (r *ReplayGain) Validate() error        { return nil }

func (r *ReplayGain) Instantiate(format chunk.Format) error {
	if err := r.checkFormat(format); err != nil {
		return err
	}
	r.instantiated(format)
	return nil
}

func (r *ReplayGain) Run(c *chunk.Chunk) {
	if !r.active(c) {
		return
	}
	s := r.snap.Load()
	if s.gain == 1 {
		return
	}
	c.ApplyGain(s.gain)
	if s.preventClipping {
		data := c.Data()
		for i, x := range data {
			data[i] = clipSample(x)
		}
	}
}

func (r *ReplayGain) Reset() { r.resetState() }

func (r *ReplayGain) SetParam(name string, value float64) error {
	if r.setCommon(name, value) {
		return nil
	}
	v, err := r.resolve(name, value)
	if err != nil {
		return err
	}
	r.edit(func(s *replayGainSnapshot) { setReplayGainField(s, name, v) })
	return nil
}

func (r *ReplayGain) Param(name string) (float64, bool) {
	if v, ok := r.common(name); ok {
		return v, true
	}
	s := r.snap.Load()
	switch name {
	case "mode":
		return float64(s.mode), true
	case "preamp":
		return s.preAmp, true
	case "prevent_clipping":
		return boolFloat(s.preventClipping), true
	case "track_gain":
		return s.trackGain, true
	case "track_peak":
		return s.trackPeak, true
	case "album_gain":
		return s.albumGain, true
	case "album_peak":
		return s.albumPeak, true
	}
	return 0, false
}

func setReplayGainField(s *replayGainSnapshot, name string, v float64) {
	switch name {
	case "mode":
		s.mode = ReplayGainMode(int(v))
	case "preamp":
		s.preAmp = v
	case "prevent_clipping":
		s.preventClipping = v >= 0.5
	case "track_gain":
		s.trackGain = v
	case "track_peak":
		s.trackPeak = v
	case "album_gain":
		s.albumGain = v
	case "album_peak":
		s.albumPeak = v
	}
}

// Tag values are per track and stay out of presets.
var replayGainPresetKeys = []string{"preamp", "prevent_clipping"}

func (r *ReplayGain) GetPreset(p *preset.Preset) {
	r.writePreset(p)
	p.SetString("mode", r.Mode().String())
	for _, key := range replayGainPresetKeys {
		v, _ := r.Param(key)
		p.SetFloat(key, v)
	}
}

func (r *ReplayGain) SetPreset(p *preset.Preset) error {
	if err := r.checkPreset(p); err != nil {
		return err
	}
	mode := r.Mode()
	if name, ok := p.String("mode"); ok {
		m, err := ParseReplayGainMode(name)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPreset, err)
		}
		mode = m
	}
	r.edit(func(s *replayGainSnapshot) {
		s.mode = mode
		for _, key := range replayGainPresetKeys {
			if v, ok := p.Float(key); ok {
				setReplayGainField(s, key, v)
			}
		}
	})
	r.readCommon(p)
	return nil
}
