package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

const (
	videoTrackID = 1
	// videoTimeScale makes sample times whole microseconds.
	videoTimeScale = 1_000_000
)

// H264Muxer writes H.264 access units into a fragmented MP4 with a single
// video track. Access units must arrive in presentation order without
// reordering (the encoder runs with B-frames disabled); the n-th unit gets
// the timestamp of frame n. Each fragment holds one GOP.
type H264Muxer struct {
	w      io.Writer
	fps    float64
	logger *slog.Logger

	sps []byte
	pps []byte

	initWritten bool
	seq         uint32
	count       int
	syncCount   int

	// samples of the open fragment; the last one's duration is set once the
	// next timestamp is known
	samples  []*fmp4.Sample
	baseTime uint64
	lastTS   int64
}

// NewH264Muxer creates a muxer writing to w.
func NewH264Muxer(w io.Writer, fps float64, logger *slog.Logger) *H264Muxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &H264Muxer{
		w:      w,
		fps:    fps,
		logger: logger,
		seq:    1,
	}
}

// Samples returns the number of access units written.
func (m *H264Muxer) Samples() int { return m.count }

// SyncSamples returns the number of sync samples written.
func (m *H264Muxer) SyncSamples() int { return m.syncCount }

// WriteAccessUnit appends one coded picture.
func (m *H264Muxer) WriteAccessUnit(au [][]byte) error {
	au = m.extractParams(au)
	if len(au) == 0 {
		return nil
	}

	ts := FrameTimestamp(m.count, m.fps)
	sync := containsIDR(au)

	if m.count == 0 && !sync {
		return errors.New("stream does not start with an IDR picture")
	}
	if sync && len(m.samples) > 0 {
		if err := m.flush(ts); err != nil {
			return err
		}
	}

	if n := len(m.samples); n > 0 {
		m.samples[n-1].Duration = uint32(ts - m.lastTS)
	}

	sample := &fmp4.Sample{}
	if err := sample.FillH264(0, au); err != nil {
		return fmt.Errorf("building sample %d: %w", m.count, err)
	}
	if len(m.samples) == 0 {
		m.baseTime = uint64(ts)
	}
	m.samples = append(m.samples, sample)
	m.lastTS = ts
	m.count++
	if sync {
		m.syncCount++
	}
	return nil
}

// Close writes the last fragment.
func (m *H264Muxer) Close() error {
	if len(m.samples) == 0 {
		if m.count == 0 {
			return errors.New("no access units written")
		}
		return nil
	}
	return m.flush(m.lastTS + FrameDuration(m.fps))
}

// extractParams keeps the latest SPS/PPS and drops them, with delimiters,
// from the sample payload; parameter sets live in the init segment.
func (m *H264Muxer) extractParams(au [][]byte) [][]byte {
	out := au[:0:0]
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch naluType(nalu) {
		case h264.NALUTypeSPS:
			m.sps = append([]byte(nil), nalu...)
		case h264.NALUTypePPS:
			m.pps = append([]byte(nil), nalu...)
		case h264.NALUTypeAccessUnitDelimiter:
		default:
			out = append(out, nalu)
		}
	}
	return out
}

// flush closes the open fragment; nextTS is the timestamp following its last
// sample.
func (m *H264Muxer) flush(nextTS int64) error {
	if !m.initWritten {
		if err := m.writeInit(); err != nil {
			return err
		}
		m.initWritten = true
	}

	m.samples[len(m.samples)-1].Duration = uint32(nextTS - m.lastTS)

	part := &fmp4.Part{
		SequenceNumber: m.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       videoTrackID,
			BaseTime: m.baseTime,
			Samples:  m.samples,
		}},
	}

	var buf bytes.Buffer
	if err := part.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("marshaling fragment %d: %w", m.seq, err)
	}
	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing fragment %d: %w", m.seq, err)
	}

	m.logger.Debug("wrote fragment",
		slog.Uint64("sequence", uint64(m.seq)),
		slog.Int("samples", len(m.samples)),
		slog.Uint64("base_time_us", m.baseTime),
	)
	m.seq++
	m.samples = nil
	return nil
}

func (m *H264Muxer) writeInit() error {
	if len(m.sps) == 0 || len(m.pps) == 0 {
		return errors.New("H.264 SPS/PPS not available")
	}
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        videoTrackID,
			TimeScale: videoTimeScale,
			Codec:     &mp4.CodecH264{SPS: m.sps, PPS: m.pps},
		}},
	}

	var buf bytes.Buffer
	if err := init.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("marshaling init segment: %w", err)
	}
	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing init segment: %w", err)
	}
	return nil
}

// seekableBuffer wraps bytes.Buffer to provide io.WriteSeeker, which the
// fmp4 marshalers need to patch box sizes.
type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (n int, err error) {
	if int(s.pos) > s.Buffer.Len() {
		s.Buffer.Write(make([]byte, int(s.pos)-s.Buffer.Len()))
	}

	if int(s.pos) == s.Buffer.Len() {
		n, err = s.Buffer.Write(p)
	} else {
		b := s.Buffer.Bytes()
		n = copy(b[s.pos:], p)
		if n < len(p) {
			m, err := s.Buffer.Write(p[n:])
			if err != nil {
				return n, err
			}
			n += m
		}
	}
	s.pos += int64(n)
	return n, err
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.Buffer.Len()) + offset
	default:
		return 0, fmt.Errorf("invalid whence")
	}
	if newPos < 0 {
		return 0, fmt.Errorf("negative position")
	}
	s.pos = newPos
	return newPos, nil
}
