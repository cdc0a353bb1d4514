package preset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/winramp/winramp-dsp/internal/domain"
)

const (
	Magic   uint32 = 0x46504244
	Version uint32 = 1

	// maxFieldLength bounds any single length prefix so a corrupted blob
	// cannot request an absurd allocation.
	maxFieldLength = 1 << 20
)

// MarshalBinary encodes the preset as a little-endian blob:
//
//	magic u32 | version u32 | name | nfloat u32 | (key, f32)* | nstring u32 | (key, value)*
//
// where every string is a u32 length followed by its bytes.
func (p *Preset) MarshalBinary() ([]byte, error) {
	floatNames := p.FloatNames()
	stringNames := p.StringNames()

	size := 8 + 4 + len(p.name) + 4 + 4
	for _, k := range floatNames {
		size += 4 + len(k) + 4
	}
	for _, k := range stringNames {
		size += 4 + len(k) + 4 + len(p.strings[k])
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	buf = binary.LittleEndian.AppendUint32(buf, Version)
	buf = appendString(buf, p.name)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(floatNames)))
	for _, k := range floatNames {
		buf = appendString(buf, k)
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.floats[k]))
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(stringNames)))
	for _, k := range stringNames {
		buf = appendString(buf, k)
		buf = appendString(buf, p.strings[k])
	}
	return buf, nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary. p is only
// modified when the whole blob parses.
func (p *Preset) UnmarshalBinary(data []byte) error {
	r := reader{data: data}

	magic, err := r.uint32()
	if err != nil {
		return err
	}
	if magic != Magic {
		return fmt.Errorf("%w: 0x%08x", domain.ErrBadMagic, magic)
	}
	version, err := r.uint32()
	if err != nil {
		return err
	}
	if version != Version {
		return fmt.Errorf("%w: %d", domain.ErrUnsupportedVersion, version)
	}

	scratch := New("")
	if scratch.name, err = r.string(); err != nil {
		return err
	}

	n, err := r.count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		key, err := r.string()
		if err != nil {
			return err
		}
		bits, err := r.uint32()
		if err != nil {
			return err
		}
		scratch.floats[key] = math.Float32frombits(bits)
	}

	if n, err = r.count(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		key, err := r.string()
		if err != nil {
			return err
		}
		value, err := r.string()
		if err != nil {
			return err
		}
		scratch.strings[key] = value
	}

	p.CopyFrom(scratch)
	return nil
}

// Encode is MarshalBinary without the error.
func Encode(p *Preset) []byte {
	b, _ := p.MarshalBinary()
	return b
}

// Decode parses a blob into a new preset.
func Decode(data []byte) (*Preset, error) {
	p := &Preset{}
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) uint32() (uint32, error) {
	if len(r.data)-r.off < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes at offset %d", domain.ErrTruncated, r.off)
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) count() (int, error) {
	v, err := r.uint32()
	if err != nil {
		return 0, err
	}
	if v > maxFieldLength {
		return 0, fmt.Errorf("%w: count %d too large", domain.ErrInvalidPreset, v)
	}
	return int(v), nil
}

func (r *reader) string() (string, error) {
	n, err := r.count()
	if err != nil {
		return "", err
	}
	if len(r.data)-r.off < n {
		return "", fmt.Errorf("%w: need %d bytes at offset %d", domain.ErrTruncated, n, r.off)
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s, nil
}
