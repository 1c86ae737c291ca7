package encoder

import (
	"bufio"
	"bytes"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var startCode = []byte{0x00, 0x00, 0x01}

const (
	naluReaderInitialBuffer = 1 << 20
	// maxNALUSize bounds a single NAL unit; a 4K intra frame fits comfortably.
	maxNALUSize = 64 << 20
)

// NALUReader reads NAL units from an H.264 Annex-B byte stream such as the
// output of ffmpeg -f h264.
type NALUReader struct {
	sc *bufio.Scanner
}

// NewNALUReader creates a reader over r.
func NewNALUReader(r io.Reader) *NALUReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, naluReaderInitialBuffer), maxNALUSize)
	sc.Split(splitAnnexB)
	return &NALUReader{sc: sc}
}

// Next returns the next NAL unit without its start code, or io.EOF. The
// returned slice is owned by the caller.
func (r *NALUReader) Next() ([]byte, error) {
	for r.sc.Scan() {
		tok := r.sc.Bytes()
		if len(tok) == 0 {
			continue
		}
		out := make([]byte, len(tok))
		copy(out, tok)
		return out, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// splitAnnexB yields the payload between consecutive start codes. Trailing
// zero bytes belong to the next 4-byte start code and are dropped.
func splitAnnexB(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, startCode)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// a start code may straddle the buffer boundary
		if len(data) > 2 {
			return len(data) - 2, nil, nil
		}
		return 0, nil, nil
	}

	payload := start + len(startCode)
	next := bytes.Index(data[payload:], startCode)
	if next < 0 {
		if atEOF {
			return len(data), bytes.TrimRight(data[payload:], "\x00"), nil
		}
		if start > 0 {
			return start, nil, nil
		}
		return 0, nil, nil
	}

	end := payload + next
	return end, bytes.TrimRight(data[payload:end], "\x00"), nil
}

// AccessUnitReader groups NAL units into access units (one coded picture
// each).
type AccessUnitReader struct {
	nr      *NALUReader
	pending [][]byte
	sawVCL  bool
}

// NewAccessUnitReader creates a reader over an Annex-B stream.
func NewAccessUnitReader(r io.Reader) *AccessUnitReader {
	return &AccessUnitReader{nr: NewNALUReader(r)}
}

// Next returns the next access unit, or io.EOF.
func (a *AccessUnitReader) Next() ([][]byte, error) {
	for {
		nalu, err := a.nr.Next()
		if err == io.EOF {
			if len(a.pending) == 0 {
				return nil, io.EOF
			}
			au := a.pending
			a.pending, a.sawVCL = nil, false
			return au, nil
		}
		if err != nil {
			return nil, err
		}

		if a.sawVCL && startsAccessUnit(nalu) {
			au := a.pending
			a.pending = [][]byte{nalu}
			a.sawVCL = isVCL(nalu)
			return au, nil
		}
		a.pending = append(a.pending, nalu)
		if isVCL(nalu) {
			a.sawVCL = true
		}
	}
}

func naluType(nalu []byte) h264.NALUType {
	return h264.NALUType(nalu[0] & 0x1F)
}

func isVCL(nalu []byte) bool {
	t := naluType(nalu)
	return t >= h264.NALUTypeNonIDR && t <= h264.NALUTypeIDR
}

// startsAccessUnit reports whether nalu, following a coded slice, opens a new
// access unit: a parameter set, SEI, delimiter, or the first slice of the
// next picture (first_mb_in_slice == 0, coded as a single 1 bit).
func startsAccessUnit(nalu []byte) bool {
	switch naluType(nalu) {
	case h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeSEI:
		return true
	case h264.NALUTypeNonIDR, h264.NALUTypeIDR:
		return len(nalu) > 1 && nalu[1]&0x80 != 0
	}
	return false
}

// containsIDR reports whether au holds an IDR slice.
func containsIDR(au [][]byte) bool {
	for _, n := range au {
		if len(n) > 0 && naluType(n) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}
