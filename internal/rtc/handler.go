// Package rtc carries a voice conversation over WebRTC: mic audio in,
// synthesized replies out, and a data channel for transcripts, replies
// and playback instructions the client player acts on.
package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/vshah-se/superpod/internal/capture"
	"github.com/vshah-se/superpod/internal/catalog"
	"github.com/vshah-se/superpod/internal/clock"
	"github.com/vshah-se/superpod/internal/media"
	"github.com/vshah-se/superpod/internal/playback"
	"github.com/vshah-se/superpod/internal/resolve"
	"github.com/vshah-se/superpod/internal/session"
	"github.com/vshah-se/superpod/internal/speech"
)

// SessionDescription keeps webrtc types out of the transport surface.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Options configures per-call wiring.
type Options struct {
	AssemblyAIKey     string
	DeepgramKey       string
	DeepgramVoice     string
	ICEServersJSON    string
	SignalingPassword string
	Resolver          session.Resolver
	Catalog           catalog.Provider
	Session           session.Config
}

// Handler answers WebRTC offers and runs one conversation session per
// peer connection.
type Handler struct {
	opts Options
	log  zerolog.Logger
}

func NewHandler(opts Options, log zerolog.Logger) *Handler {
	return &Handler{opts: opts, log: log.With().Str("component", "rtc").Logger()}
}

// HandleOffer accepts an SDP offer and returns an SDP answer with ICE
// gathering completed (non-trickle path).
func (h *Handler) HandleOffer(_ context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	callID := uuid.NewString()
	pc, outTrack, err := h.newPeerConnection()
	if err != nil {
		return SessionDescription{}, err
	}
	if err := h.attachCall(callID, pc, outTrack); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

func (h *Handler) newPeerConnection() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(h.opts.ICEServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"assistant-audio", "assistant",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

// attachCall builds the per-call stack: paced opus sink, speech and
// capture adapters, a server-side playback model, and the session
// controller driving them.
func (h *Handler) attachCall(callID string, pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample) error {
	log := h.log.With().Str("call", callID).Logger()

	paced, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		return err
	}

	captureAdapter := capture.NewAssemblyAI(h.opts.AssemblyAIKey, log)
	speechAdapter := speech.NewDeepgram(h.opts.DeepgramKey, h.opts.DeepgramVoice, paced, log)
	transport := media.NewClockTransport(clock.New(), time.Second)
	coordinator := playback.NewCoordinator(transport, log)
	notifier := newChannelNotifier(log)

	ctrl := session.NewController(
		captureAdapter, speechAdapter, h.opts.Resolver, coordinator,
		h.opts.Catalog, clock.New(), notifier, h.opts.Session, log,
	)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case "control":
			log.Info().Msg("control channel opened")
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
				switch cmd {
				case "start", "start-conversation":
					ctrl.StartConversation()
				case "end-turn", "end":
					ctrl.EndTurn()
				case "stop", "stop-conversation":
					ctrl.StopConversation()
				default:
					log.Debug().Str("cmd", cmd).Msg("unknown control command")
				}
			})
		case "events":
			notifier.bind(dc)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Info().Str("state", state.String()).Msg("ice state")
	})

	var closeOnce sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			closeOnce.Do(func() {
				ctrl.StopConversation()
				cancel()
				_ = captureAdapter.Stop()
				_ = paced.FlushTail()
				time.AfterFunc(400*time.Millisecond, paced.Close)
				_ = pc.Close()
			})
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Info().Str("codec", remote.Codec().MimeType).Msg("remote audio track received")
		dec, derr := opus.NewDecoder(16000, 1)
		if derr != nil {
			log.Error().Err(derr).Msg("opus decoder error")
			return
		}
		go h.pumpMic(remote, dec, captureAdapter, log)
	})

	return nil
}

// pumpMic decodes incoming opus to 16 kHz PCM and forwards fixed-size
// chunks to the capture adapter. Send errors while capture is stopped
// are expected and dropped.
func (h *Handler) pumpMic(remote *webrtc.TrackRemote, dec *opus.Decoder, sink capture.Adapter, log zerolog.Logger) {
	const chunkBytes = 3200 // 100ms at 16kHz
	buf := make([]byte, 0, chunkBytes*4)
	samples := make([]int16, 1920)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Debug().Err(readErr).Msg("rtp read ended")
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, samples)
		if decErr != nil {
			continue
		}
		startLen := len(buf)
		need := n * 2
		if cap(buf)-len(buf) < need {
			tmp := make([]byte, len(buf), len(buf)+need+chunkBytes)
			copy(tmp, buf)
			buf = tmp
		}
		buf = buf[:len(buf)+need]
		o := buf[startLen:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(o[i*2:(i+1)*2], uint16(samples[i]))
		}
		for len(buf) >= chunkBytes {
			chunk := make([]byte, chunkBytes)
			copy(chunk, buf[:chunkBytes])
			_ = sink.SendPCM16KLE(chunk)
			copy(buf, buf[chunkBytes:])
			buf = buf[:len(buf)-chunkBytes]
		}
	}
}

// channelNotifier forwards session observations over the "events" data
// channel so the client can render transcripts and drive its player.
type channelNotifier struct {
	log zerolog.Logger
	mu  sync.Mutex
	dc  *webrtc.DataChannel
}

func newChannelNotifier(log zerolog.Logger) *channelNotifier {
	return &channelNotifier{log: log}
}

func (n *channelNotifier) bind(dc *webrtc.DataChannel) {
	n.mu.Lock()
	n.dc = dc
	n.mu.Unlock()
	n.log.Info().Msg("events channel opened")
}

type intentPayload struct {
	FileID    string  `json:"fileId"`
	SegmentID string  `json:"segmentId"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

func (n *channelNotifier) OnStateChange(s session.State) {
	n.send(map[string]any{"type": "state", "state": s.String()})
}

func (n *channelNotifier) OnPartialTranscript(text string) {
	n.send(map[string]any{"type": "partial", "text": text})
}

func (n *channelNotifier) OnReply(text string, intent *resolve.PlaybackIntent) {
	msg := map[string]any{"type": "reply", "text": text}
	if intent != nil {
		msg["playback"] = intentPayload{
			FileID:    intent.FileID,
			SegmentID: intent.Segment.ID,
			Start:     intent.Segment.Start,
			End:       intent.Segment.End,
		}
	}
	n.send(msg)
}

func (n *channelNotifier) OnFault(f *session.Fault) {
	n.send(map[string]any{"type": "fault", "kind": f.Kind.String(), "error": f.Error()})
}

func (n *channelNotifier) send(msg map[string]any) {
	n.mu.Lock()
	dc := n.dc
	n.mu.Unlock()
	if dc == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := dc.SendText(string(data)); err != nil {
		n.log.Debug().Err(err).Msg("events send failed")
	}
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

var _ session.Notifier = (*channelNotifier)(nil)
