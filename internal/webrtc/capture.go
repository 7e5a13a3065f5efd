package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/util"
)

const (
	// StreamID is the media stream id of every captured track.
	StreamID = "roomcall"

	opusFrameDuration = 20 * time.Millisecond
	opusSampleRate    = 48000
)

// opusSilence is a single 20 ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Constraints describe the local stream to capture. An empty AudioFile sends
// Opus silence; an empty VideoFile captures audio only.
type Constraints struct {
	AudioFile string // Ogg/Opus
	VideoFile string // IVF/VP8
	Width     int    // 0 accepts any resolution
	Height    int
}

// Stream is a captured local audio/video stream. It implements
// negotiation.LocalStream.
type Stream struct {
	tracks []webrtc.TrackLocal

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closers  []io.Closer
	stopOnce sync.Once
}

var _ negotiation.LocalStream = (*Stream)(nil)

// Tracks returns the local tracks in a fixed order: audio, then video.
func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Stop halts the sample pumps and closes the source files. It is safe to
// call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		for _, closer := range s.closers {
			_ = closer.Close()
		}
		util.LogDebug("local stream stopped")
	})
}

// Capture opens the configured sources and starts feeding samples into the
// local tracks until ctx is cancelled or Stop is called. Every failure is
// reported as negotiation.ErrMediaAcquisition.
func Capture(ctx context.Context, c Constraints) (*Stream, error) {
	s, err := capture(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", negotiation.ErrMediaAcquisition, err)
	}
	return s, nil
}

func capture(ctx context.Context, c Constraints) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{cancel: cancel}

	fail := func(err error) (*Stream, error) {
		cancel()
		for _, closer := range s.closers {
			_ = closer.Close()
		}
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2},
		"audio", StreamID,
	)
	if err != nil {
		return fail(fmt.Errorf("create audio track: %w", err))
	}
	s.tracks = append(s.tracks, audio)

	var audioPump func(context.Context)
	if c.AudioFile == "" {
		audioPump = func(ctx context.Context) { pumpSilence(ctx, audio) }
	} else {
		f, err := os.Open(c.AudioFile)
		if err != nil {
			return fail(fmt.Errorf("open audio source: %w", err))
		}
		s.closers = append(s.closers, f)

		if _, _, err := oggreader.NewWith(f); err != nil {
			return fail(fmt.Errorf("read ogg header %s: %w", c.AudioFile, err))
		}
		audioPump = func(ctx context.Context) { pumpOgg(ctx, f, audio) }
	}

	var videoPump func(context.Context)
	if c.VideoFile != "" {
		f, err := os.Open(c.VideoFile)
		if err != nil {
			return fail(fmt.Errorf("open video source: %w", err))
		}
		s.closers = append(s.closers, f)

		_, header, err := ivfreader.NewWith(f)
		if err != nil {
			return fail(fmt.Errorf("read ivf header %s: %w", c.VideoFile, err))
		}
		if header.FourCC != "VP80" {
			return fail(fmt.Errorf("unsupported video codec %q in %s", header.FourCC, c.VideoFile))
		}
		if (c.Width > 0 && int(header.Width) != c.Width) || (c.Height > 0 && int(header.Height) != c.Height) {
			return fail(fmt.Errorf("video source is %dx%d, want %dx%d",
				header.Width, header.Height, c.Width, c.Height))
		}

		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", StreamID,
		)
		if err != nil {
			return fail(fmt.Errorf("create video track: %w", err))
		}
		s.tracks = append(s.tracks, video)

		frame := frameDuration(header)
		videoPump = func(ctx context.Context) { pumpIVF(ctx, f, frame, video) }
	}

	for _, pump := range []func(context.Context){audioPump, videoPump} {
		if pump == nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			pump(ctx)
		}()
	}

	util.LogDebug("captured local stream with %d track(s)", len(s.tracks))
	return s, nil
}

func frameDuration(h *ivfreader.IVFFileHeader) time.Duration {
	if h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return time.Second / 30
	}
	return time.Duration(float64(h.TimebaseNumerator) / float64(h.TimebaseDenominator) * float64(time.Second))
}

func pumpSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrameDuration}); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					util.LogWarning("write audio sample: %v", err)
				}
				return
			}
		}
	}
}

// pumpOgg writes Ogg pages to track in real time, rewinding at end of file.
func pumpOgg(ctx context.Context, f *os.File, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	reader, _, err := rewindOgg(f)
	if err != nil {
		util.LogWarning("audio source: %v", err)
		return
	}
	var lastGranule uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if reader, _, err = rewindOgg(f); err != nil {
				util.LogWarning("audio source: %v", err)
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			util.LogWarning("audio source: %v", err)
			return
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))

		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				util.LogWarning("write audio sample: %v", err)
			}
			return
		}
	}
}

// pumpIVF writes IVF frames to track at the file's frame rate, rewinding at
// end of file.
func pumpIVF(ctx context.Context, f *os.File, frame time.Duration, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	reader, err := rewindIVF(f)
	if err != nil {
		util.LogWarning("video source: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if reader, err = rewindIVF(f); err != nil {
				util.LogWarning("video source: %v", err)
				return
			}
			continue
		}
		if err != nil {
			util.LogWarning("video source: %v", err)
			return
		}

		if err := track.WriteSample(media.Sample{Data: data, Duration: frame}); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				util.LogWarning("write video sample: %v", err)
			}
			return
		}
	}
}

func rewindOgg(f *os.File) (*oggreader.OggReader, *oggreader.OggHeader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}
	return oggreader.NewWith(f)
}

func rewindIVF(f *os.File) (*ivfreader.IVFReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, _, err := ivfreader.NewWith(f)
	return reader, err
}
