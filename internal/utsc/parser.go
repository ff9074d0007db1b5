// ABOUTME: Decodes UTSC capture files into spectrum samples.
// ABOUTME: Files carry a fixed header followed by big-endian int16 amplitudes in tenths of dB.

package utsc

import (
	"encoding/binary"
	"fmt"
	"time"
)

// HeaderSize is the length of the fixed UTSC file header.
const HeaderSize = 328

// Sample is one parsed spectrum capture.
type Sample struct {
	Filename    string
	CapturedAt  time.Time
	Frequencies []float64
	Amplitudes  []float64
}

// ParseError reports a capture file that could not be decoded. Incomplete is
// set when the file is shorter than a full capture, which is what a file
// still being written looks like.
type ParseError struct {
	Filename   string
	Reason     string
	Incomplete bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %s", e.Filename, e.Reason)
}

// Parse decodes a capture file holding numBins amplitudes after the header.
// Bytes past the last bin are ignored. The frequency axis spans
// [center-span/2, center+span/2) in equal steps, one per bin. A numBins of
// zero or less takes the bin count from the file length.
func Parse(filename string, data []byte, numBins int, centerHz, spanHz int64, capturedAt time.Time) (Sample, error) {
	if len(data) < HeaderSize {
		return Sample{}, &ParseError{
			Filename:   filename,
			Reason:     fmt.Sprintf("file is %d bytes, shorter than the %d byte header", len(data), HeaderSize),
			Incomplete: true,
		}
	}

	body := data[HeaderSize:]
	n := numBins
	if n <= 0 {
		n = len(body) / 2
	}
	if n == 0 {
		return Sample{}, &ParseError{Filename: filename, Reason: "no amplitude data after header", Incomplete: true}
	}
	if len(body) < 2*n {
		return Sample{}, &ParseError{
			Filename:   filename,
			Reason:     fmt.Sprintf("file has %d of %d amplitude bytes", len(body), 2*n),
			Incomplete: true,
		}
	}

	amps := make([]float64, n)
	for i := range amps {
		raw := int16(binary.BigEndian.Uint16(body[2*i:]))
		amps[i] = float64(raw) / 10.0
	}

	start := float64(centerHz) - float64(spanHz)/2
	step := float64(spanHz) / float64(n)
	freqs := make([]float64, n)
	for i := range freqs {
		freqs[i] = start + float64(i)*step
	}

	return Sample{
		Filename:    filename,
		CapturedAt:  capturedAt,
		Frequencies: freqs,
		Amplitudes:  amps,
	}, nil
}

// Encode builds a capture file from amplitudes in dB, rounding to tenths.
// The header is zero-filled. Used by simulators and tests.
func Encode(amplitudes []float64) []byte {
	out := make([]byte, HeaderSize+2*len(amplitudes))
	for i, a := range amplitudes {
		v := a * 10
		if v >= 0 {
			v += 0.5
		} else {
			v -= 0.5
		}
		binary.BigEndian.PutUint16(out[HeaderSize+2*i:], uint16(int16(v)))
	}
	return out
}
