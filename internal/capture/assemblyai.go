package capture

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// AssemblyAI streams PCM16 16 kHz audio to AssemblyAI's realtime endpoint
// and emits running partial transcripts.
type AssemblyAI struct {
	apiKey string
	log    zerolog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	stopCh    chan struct{}

	events chan Event
	audio  chan []byte

	voiceMu   sync.Mutex
	lastVoice time.Time
}

// assemblyai realtime message envelopes
type aaiTurnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type aaiBeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type aaiErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAI(apiKey string, log zerolog.Logger) *AssemblyAI {
	return &AssemblyAI{
		apiKey: apiKey,
		log:    log.With().Str("component", "capture").Logger(),
		events: make(chan Event, 100),
		audio:  make(chan []byte, 1000),
	}
}

// Start dials the streaming endpoint. A failure here is a capture
// acquisition failure: the session falls back to idle.
func (s *AssemblyAI) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("assemblyai: api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{"Authorization": {s.apiKey}}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			s.log.Error().Int("status", resp.StatusCode).Msg("assemblyai connection refused")
		}
		return fmt.Errorf("assemblyai: failed to connect: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.stopCh = make(chan struct{})
	s.touchVoice()

	go s.readLoop(s.stopCh, conn)
	go s.writeLoop(s.stopCh, conn)

	s.emit(Event{Kind: EventListening})
	s.log.Info().Msg("assemblyai capture started")
	return nil
}

// Stop terminates the stream. Safe to call repeatedly or when never started.
func (s *AssemblyAI) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.conn = nil
	s.connected = false
	s.emit(Event{Kind: EventStopped})
	s.log.Info().Msg("assemblyai capture stopped")
	return nil
}

func (s *AssemblyAI) Events() <-chan Event { return s.events }

// SendPCM16KLE queues audio for delivery, updating voice-activity state.
// Buffer pressure drops packets rather than blocking the media path.
func (s *AssemblyAI) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("assemblyai: not connected")
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audio <- pcm:
	default:
		s.log.Debug().Msg("audio buffer full, dropping packet")
	}
	return nil
}

func (s *AssemblyAI) RecentlyDetectedVoice(window time.Duration) bool {
	s.voiceMu.Lock()
	last := s.lastVoice
	s.voiceMu.Unlock()
	return time.Since(last) <= window
}

func (s *AssemblyAI) touchVoice() {
	s.voiceMu.Lock()
	s.lastVoice = time.Now()
	s.voiceMu.Unlock()
}

// detectVoiceActivity updates lastVoice when the buffer's RMS crosses a
// conservative speech-energy threshold. Expects 16-bit LE mono at 16 kHz.
func (s *AssemblyAI) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	const voiceRMS = 250.0
	if math.Sqrt(sumSquares/float64(count)) >= voiceRMS {
		s.touchVoice()
	}
}

func (s *AssemblyAI) readLoop(stopCh chan struct{}, conn *websocket.Conn) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
				// expected during shutdown
			default:
				s.emit(Event{Kind: EventError, Err: fmt.Errorf("assemblyai: read: %w", err)})
			}
			return
		}
		s.processMessage(message)
	}
}

func (s *AssemblyAI) processMessage(message []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.log.Warn().Err(err).Msg("unparseable assemblyai message")
		return
	}
	switch envelope.Type {
	case "Begin":
		var msg aaiBeginMessage
		if json.Unmarshal(message, &msg) == nil {
			s.log.Info().Str("session_id", msg.ID).Msg("assemblyai session began")
		}
	case "Turn":
		var msg aaiTurnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn().Err(err).Msg("bad turn message")
			return
		}
		if msg.Transcript != "" {
			s.emit(Event{Kind: EventPartial, Text: msg.Transcript})
		}
	case "Termination":
		s.log.Info().Msg("assemblyai session terminated")
	case "Error":
		var msg aaiErrorMessage
		_ = json.Unmarshal(message, &msg)
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("assemblyai: %s", msg.Error)})
	default:
		s.log.Debug().Str("type", envelope.Type).Msg("unhandled assemblyai message type")
	}
}

func (s *AssemblyAI) writeLoop(stopCh chan struct{}, conn *websocket.Conn) {
	for {
		select {
		case <-stopCh:
			return
		case data := <-s.audio:
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				select {
				case <-stopCh:
				default:
					s.log.Error().Err(err).Msg("failed to send audio")
				}
				return
			}
		}
	}
}

// emit never blocks; the session consumes events promptly but a wedged
// consumer must not deadlock the socket loops.
func (s *AssemblyAI) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Int("kind", int(ev.Kind)).Msg("capture event dropped")
	}
}

var _ Adapter = (*AssemblyAI)(nil)
