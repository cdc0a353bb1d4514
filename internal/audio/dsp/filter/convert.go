package filter

import "math"

// MinDB is returned by LinearToDB for silent or negative input.
const MinDB = -240.0

func FrequencyToMIDI(freq float64) float64 {
	return 69 + 12*math.Log2(freq/440)
}

func MIDIToFrequency(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

// FrequencyToOctave returns the distance from ref in octaves.
func FrequencyToOctave(freq, ref float64) float64 {
	return math.Log2(freq / ref)
}

func QToBandwidth(q float64) float64 {
	return 1 / q
}

func BandwidthToQ(bw float64) float64 {
	return 1 / bw
}

// OctaveToQ converts a bandwidth in octaves to Q.
func OctaveToQ(octaves float64) float64 {
	p := math.Pow(2, octaves)
	return math.Sqrt(p) / (p - 1)
}

// QToOctave converts Q to a bandwidth in octaves.
func QToOctave(q float64) float64 {
	q2 := q * q
	return math.Log2((q2 + math.Sqrt(q2*q2+4*q2)) / (2 * q2))
}

func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

func LinearToDB(lin float64) float64 {
	if lin <= 0 {
		return MinDB
	}
	return math.Max(20*math.Log10(lin), MinDB)
}
