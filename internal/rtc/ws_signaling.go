package rtc

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// signalMessage is the websocket signaling frame. Types: "auth",
// "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type          string  `json:"type"`
	Password      string  `json:"password,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// browser clients connect from arbitrary origins
		return true
	},
}

// ServeWebSocket upgrades the request and performs offer/answer plus
// trickle-ICE signaling, then keeps the socket open for the lifetime of
// the peer connection.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	// gorilla connections allow one writer at a time; candidate trickling
	// races the answer write without this
	var writeMu sync.Mutex
	writeJSON := func(m signalMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(m)
	}

	if pwd := h.opts.SignalingPassword; pwd != "" {
		if !checkAuthHeaderOrQuery(r, pwd) && !readAuthFrame(conn, pwd) {
			_ = writeJSON(signalMessage{Type: "error", Error: "unauthorized"})
			return
		}
	}

	offerSDP, ok := readUntilOffer(conn)
	if !ok {
		return
	}

	callID := uuid.NewString()
	log := h.log.With().Str("call", callID).Logger()

	pc, outTrack, err := h.newPeerConnection()
	if err != nil {
		_ = writeJSON(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	defer func() { _ = pc.Close() }()

	if err := h.attachCall(callID, pc, outTrack); err != nil {
		_ = writeJSON(signalMessage{Type: "error", Error: err.Error()})
		return
	}

	// trickle local candidates out as they gather
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = writeJSON(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = writeJSON(signalMessage{
			Type:          "candidate",
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	// accept remote candidates until bye or socket close
	go func() {
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			var m signalMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch strings.ToLower(m.Type) {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{
					Candidate:     m.Candidate,
					SDPMid:        m.SDPMid,
					SDPMLineIndex: m.SDPMLineIndex,
				})
			case "bye":
				_ = pc.Close()
				return
			}
		}
	}()

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = writeJSON(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = writeJSON(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = writeJSON(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = writeJSON(signalMessage{Type: "error", Error: "no local description"})
		return
	}
	if err := writeJSON(signalMessage{Type: "answer", SDP: local.SDP}); err != nil {
		log.Warn().Err(err).Msg("answer write failed")
		return
	}

	for {
		time.Sleep(2 * time.Second)
		state := pc.ConnectionState()
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateDisconnected {
			return
		}
	}
}

func readAuthFrame(conn *websocket.Conn, password string) bool {
	mt, data, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		return false
	}
	var m signalMessage
	if json.Unmarshal(data, &m) != nil {
		return false
	}
	return strings.ToLower(m.Type) == "auth" && m.Password == password
}

func readUntilOffer(conn *websocket.Conn) (string, bool) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return "", false
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				return m.SDP, true
			}
		case "bye":
			return "", false
		}
	}
}

func checkAuthHeaderOrQuery(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}
