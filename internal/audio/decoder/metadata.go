package decoder

import (
	"io"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// readMetadata reads the tags of rs and rewinds it. Files without tags
// yield empty metadata.
func readMetadata(rs io.ReadSeeker) *Metadata {
	md := &Metadata{}
	defer rs.Seek(0, io.SeekStart)

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return md
	}
	m, err := tag.ReadFrom(rs)
	if err != nil {
		return md
	}

	md.Title = m.Title()
	md.Artist = m.Artist()
	md.Album = m.Album()
	md.AlbumArtist = m.AlbumArtist()
	md.Genre = m.Genre()
	md.Year = m.Year()
	md.Comment = m.Comment()
	if track, _ := m.Track(); track > 0 {
		md.TrackNumber = track
	}
	if disc, _ := m.Disc(); disc > 0 {
		md.DiscNumber = disc
	}
	if pic := m.Picture(); pic != nil {
		md.AlbumArt = pic.Data
		md.AlbumArtMIME = pic.MIMEType
	}
	applyReplayGain(md, m.Raw())
	return md
}

// applyReplayGain picks the REPLAYGAIN_* values out of raw tags. Vorbis
// comments arrive as plain strings keyed by the lower-cased field name;
// ID3v2 stores them in TXXX frames whose description is the field name.
func applyReplayGain(md *Metadata, raw map[string]interface{}) {
	for key, v := range raw {
		var value string
		switch x := v.(type) {
		case string:
			value = x
		case *tag.Comm:
			key, value = x.Description, x.Text
		default:
			continue
		}

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "replaygain_track_gain":
			md.TrackGain, md.HasTrackGain = parseGain(value)
		case "replaygain_track_peak":
			md.TrackPeak, _ = parseGain(value)
		case "replaygain_album_gain":
			md.AlbumGain, md.HasAlbumGain = parseGain(value)
		case "replaygain_album_peak":
			md.AlbumPeak, _ = parseGain(value)
		}
	}
}

// parseGain accepts "-6.52 dB", "+1.2dB" and bare numbers.
func parseGain(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.EqualFold(s[len(s)-2:], "db") {
		s = strings.TrimSpace(s[:len(s)-2])
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
