package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winramp/winramp-dsp/internal/audio/chunk"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/filter"
	"github.com/winramp/winramp-dsp/internal/audio/dsp/preset"
	"github.com/winramp/winramp-dsp/internal/domain"
)

func TestVolume_Gain(t *testing.T) {
	tests := []struct {
		name   string
		gainDB float64
		want   float32
	}{
		{"unity", 0, 0.5},
		{"minus 6", -6, 0.5 * float32(filter.DBToLinear(-6))},
		{"plus 6", 6, 0.5 * float32(filter.DBToLinear(6))},
		{"clamped low", -200, 0.5 * float32(filter.DBToLinear(MinVolumeDB))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVolume()
			v.SetGainDB(tt.gainDB)
			mustInstantiate(t, v, stereo44k)

			c := constantChunk(0.5, 256, 2, 44100)
			v.Run(c)
			for _, x := range c.Data() {
				require.InDelta(t, tt.want, x, 1e-6)
			}
		})
	}
}

func TestVolume_RampsGainChanges(t *testing.T) {
	v := NewVolume()
	mustInstantiate(t, v, chunk.Format{SampleRate: 44100, Channels: 1})

	v.SetGainDB(-20)
	c := constantChunk(1, 100, 1, 44100)
	v.Run(c)

	target := float32(filter.DBToLinear(-20))
	data := c.Data()
	for i := 1; i < len(data); i++ {
		require.Less(t, data[i], data[i-1], "ramp must fall monotonically at %d", i)
	}
	assert.InDelta(t, target, data[len(data)-1], 1e-5)

	// Once the ramp is done the gain is constant.
	next := constantChunk(1, 100, 1, 44100)
	v.Run(next)
	for _, x := range next.Data() {
		require.InDelta(t, target, x, 1e-6)
	}
}

func TestVolume_ChannelMask(t *testing.T) {
	v := NewVolume()
	v.SetGainDB(-6)
	v.SetChannelMask(1 << 1)
	mustInstantiate(t, v, stereo44k)

	assert.Equal(t, uint32(0b10), v.ChannelMask(2))
	assert.Equal(t, uint32(0b11), NewVolume().ChannelMask(2))

	c := constantChunk(0.5, 64, 2, 44100)
	v.Run(c)
	assert.InDelta(t, 0.5, channelRMS(c, 0, 0, 64), 1e-9)
	assert.InDelta(t, 0.5*filter.DBToLinear(-6), channelRMS(c, 1, 0, 64), 1e-6)
}

func TestVolume_Mute(t *testing.T) {
	v := NewVolume()
	require.NoError(t, v.SetParam("mute", 1))
	assert.True(t, v.Muted())
	mustInstantiate(t, v, stereo44k)

	c := constantChunk(0.5, 64, 2, 44100)
	v.Run(c)
	for _, x := range c.Data() {
		require.Zero(t, x)
	}

	got, ok := v.Param("mute")
	require.True(t, ok)
	assert.Equal(t, 1.0, got)
}

func TestVolume_ParamsAndPresets(t *testing.T) {
	v := NewVolume()
	require.NoError(t, v.SetParam("gain_db", 50))
	assert.Equal(t, MaxVolumeDB, v.GainDB())
	assert.ErrorIs(t, v.SetParam("pan", 0), domain.ErrUnknownParameter)

	p := preset.New("quiet")
	v.SetGainDB(-12)
	v.GetPreset(p)

	other := NewVolume()
	require.NoError(t, other.SetPreset(p))
	assert.Equal(t, -12.0, other.GainDB())
}

func TestLimiter_HoldsPeaks(t *testing.T) {
	l := NewLimiter()
	l.SetThreshold(-6)
	mustInstantiate(t, l, stereo44k)

	c := constantChunk(0.9, 4410, 2, 44100)
	l.Run(c)

	// Skip the attack window.
	for i := 441 * 2; i < len(c.Data()); i++ {
		require.Less(t, c.Data()[i], float32(0.6), "sample %d", i)
	}
	assert.Less(t, l.GainReduction(), -3.0)
}

func TestLimiter_BelowThresholdUntouched(t *testing.T) {
	l := NewLimiter()
	l.SetThreshold(-6)
	mustInstantiate(t, l, stereo44k)

	c := sineChunk(440, 0.3, 2048, 2, 44100)
	want := c.Clone()
	l.Run(c)
	assert.Equal(t, want.Data(), c.Data())
	assert.Zero(t, l.GainReduction())
}

func TestLimiter_Params(t *testing.T) {
	l := NewLimiter()
	assert.Equal(t, -3.0, l.Threshold())
	assert.Equal(t, 50.0, l.Release())

	l.SetThreshold(-40)
	l.SetRelease(9000)
	assert.Equal(t, MinLimiterThreshold, l.Threshold())
	assert.Equal(t, MaxLimiterRelease, l.Release())

	require.NoError(t, l.SetParam("threshold", -1))
	got, ok := l.Param("threshold")
	require.True(t, ok)
	assert.Equal(t, -1.0, got)

	p := preset.New("brick")
	l.GetPreset(p)
	other := NewLimiter()
	require.NoError(t, other.SetPreset(p))
	assert.Equal(t, -1.0, other.Threshold())
	assert.Equal(t, MaxLimiterRelease, other.Release())
}

func TestReplayGain_Modes(t *testing.T) {
	tests := []struct {
		name     string
		mode     ReplayGainMode
		preAmp   float64
		clipping bool
		want     float64
	}{
		{"track", ReplayGainTrack, 0, false, filter.DBToLinear(-6)},
		{"album", ReplayGainAlbum, 0, false, filter.DBToLinear(3)},
		{"track with preamp", ReplayGainTrack, 2, false, filter.DBToLinear(-4)},
		{"album clip prevention", ReplayGainAlbum, 0, true, 1 / 0.9},
		{"off", ReplayGainOff, 6, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rg := NewReplayGain()
			rg.SetTrackGain(-6, 0.5)
			rg.SetAlbumGain(3, 0.9)
			rg.SetMode(tt.mode)
			rg.SetPreAmp(tt.preAmp)
			rg.SetPreventClipping(tt.clipping)
			assert.InDelta(t, tt.want, rg.Gain(), 1e-6)

			mustInstantiate(t, rg, stereo44k)
			c := constantChunk(0.25, 64, 2, 44100)
			rg.Run(c)
			for _, x := range c.Data() {
				require.InDelta(t, 0.25*tt.want, x, 1e-6)
			}
		})
	}
}

func TestReplayGain_ClipsWhenPreventing(t *testing.T) {
	rg := NewReplayGain()
	rg.SetTrackGain(12, 0)
	mustInstantiate(t, rg, stereo44k)

	c := constantChunk(0.8, 32, 2, 44100)
	rg.Run(c)
	for _, x := range c.Data() {
		require.Equal(t, float32(1), x)
	}

	rg.ClearGains()
	assert.Equal(t, 1.0, rg.Gain())
}

func TestReplayGain_Presets(t *testing.T) {
	rg := NewReplayGain()
	rg.SetMode(ReplayGainAlbum)
	rg.SetPreAmp(3)
	rg.SetTrackGain(-7, 0.8)

	p := preset.New("album")
	rg.GetPreset(p)
	assert.False(t, p.Has("track_gain"))

	other := NewReplayGain()
	require.NoError(t, other.SetPreset(p))
	assert.Equal(t, ReplayGainAlbum, other.Mode())
	assert.Equal(t, 3.0, other.PreAmp())
	got, _ := other.Param("track_gain")
	assert.Zero(t, got)

	bad := preset.New("bad")
	bad.SetString("mode", "loudest")
	assert.ErrorIs(t, other.SetPreset(bad), domain.ErrInvalidPreset)
}

func TestParseReplayGainMode(t *testing.T) {
	tests := []struct {
		in   string
		want ReplayGainMode
		err  bool
	}{
		{"track", ReplayGainTrack, false},
		{"ALBUM", ReplayGainAlbum, false},
		{"", ReplayGainOff, false},
		{"off", ReplayGainOff, false},
		{"radio", ReplayGainOff, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReplayGainMode(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, domain.ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParseMode(t, got.String()))
		})
	}
}

func mustParseMode(t *testing.T, s string) ReplayGainMode {
	t.Helper()
	m, err := ParseReplayGainMode(s)
	require.NoError(t, err)
	return m
}
