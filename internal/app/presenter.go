// Package app is the terminal front end of a call: it prints the session
// identity and state changes, and consumes (optionally records) the remote
// tracks.
package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/pterm/pterm"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/signaling"
	"github.com/1ureka/roomcall/internal/util"
)

// rtpTrack is a remote track that can be read. *webrtc.TrackRemote
// implements it.
type rtpTrack interface {
	negotiation.RemoteTrack
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	Codec() webrtc.RTPCodecParameters
}

// Presenter renders a call in the terminal.
type Presenter struct {
	recordDir string

	wg sync.WaitGroup

	mu     sync.Mutex
	tracks int
}

// NewPresenter returns a Presenter. When recordDir is set every remote track
// is written there as .ivf (video) or .ogg (audio).
func NewPresenter(recordDir string) *Presenter {
	return &Presenter{recordDir: recordDir}
}

// Joined prints the session identity.
func (p *Presenter) Joined(id signaling.Identity) {
	pterm.DefaultBox.WithTitle("Call").Println(
		fmt.Sprintf("User : %s\nRoom : %s", id.Username, id.Room))
	pterm.Println("Waiting for the other participant...")
}

// StateChanged reports a negotiation transition.
func (p *Presenter) StateChanged(t negotiation.Transition) {
	switch t.To {
	case negotiation.StateNegotiating:
		util.LogInfo("negotiating as %s", t.Role)
	case negotiation.StateConnected:
		util.LogSuccess("call connected")
	case negotiation.StateJoining:
		if t.From != negotiation.StateAwaitingLocalMedia {
			util.LogInfo("the other participant left; waiting in the room")
		}
	case negotiation.StateClosed:
		if t.Err != nil {
			util.LogError("call ended: %v", t.Err)
		} else {
			util.LogInfo("call ended")
		}
	}
}

// RemoteTrack starts consuming track in the background. Consumption ends when
// the peer connection that carries the track is closed.
func (p *Presenter) RemoteTrack(track negotiation.RemoteTrack) {
	rt, ok := track.(rtpTrack)
	if !ok {
		util.LogDebug("remote %s track %s is not readable", track.Kind(), track.ID())
		return
	}

	p.mu.Lock()
	p.tracks++
	n := p.tracks
	p.mu.Unlock()

	var w media.Writer
	if p.recordDir != "" {
		var err error
		if w, err = p.openRecorder(rt, n); err != nil {
			util.LogWarning("not recording %s track: %v", rt.Kind(), err)
			w = nil
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		consume(rt, w)
	}()
}

// Wait blocks until every track consumer has finished.
func (p *Presenter) Wait() {
	p.wg.Wait()
}

func (p *Presenter) openRecorder(t rtpTrack, n int) (media.Writer, error) {
	if err := os.MkdirAll(p.recordDir, 0o755); err != nil {
		return nil, err
	}

	mime := t.Codec().MimeType
	base := filepath.Join(p.recordDir, fmt.Sprintf("%s-%d", sanitize(t.StreamID()), n))

	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		return ivfwriter.New(base+".ivf", ivfwriter.WithCodec(webrtc.MimeTypeVP8))
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		return oggwriter.New(base+".ogg", 48000, 2)
	default:
		return nil, fmt.Errorf("unsupported codec %q", mime)
	}
}

func consume(t rtpTrack, w media.Writer) {
	util.LogInfo("receiving remote %s (%s)", t.Kind(), t.Codec().MimeType)

	defer func() {
		if w != nil {
			if err := w.Close(); err != nil {
				util.LogWarning("close recording: %v", err)
			}
		}
	}()

	for {
		pkt, _, err := t.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("remote %s track ended: %v", t.Kind(), err)
			}
			return
		}
		util.Stats.AddRecv(len(pkt.Payload))

		if w != nil {
			if err := w.WriteRTP(pkt); err != nil {
				util.LogWarning("recording %s: %v", t.Kind(), err)
				_ = w.Close()
				w = nil
			}
		}
	}
}

func sanitize(s string) string {
	if s == "" {
		return "remote"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
