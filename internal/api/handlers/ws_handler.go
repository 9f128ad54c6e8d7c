package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/anamnesi/internal/capture"
	"github.com/yoockh/anamnesi/internal/models"
	"github.com/yoockh/anamnesi/internal/pubsub"
	"github.com/yoockh/anamnesi/internal/services"
	"github.com/yoockh/anamnesi/internal/session"
	"github.com/yoockh/anamnesi/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 4 << 20
)

// WSHandler carries one interview's audio in and its snapshots out. Binary
// frames are raw PCM16 mono samples; text frames are JSON control messages.
type WSHandler struct {
	interviews services.InterviewService
	broker     pubsub.Broker
	log        *logrus.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(interviews services.InterviewService, broker pubsub.Broker, log *logrus.Logger, allowedOrigins []string) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	return &WSHandler{
		interviews: interviews,
		broker:     broker,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type wsClientMsg struct {
	Type string `json:"type"` // start|stop|audio_chunk|mic_denied|ping

	// start
	Mode             models.AnalysisMode `json:"mode"`
	ScreeningSection string              `json:"screening_section"`
	Source           session.SourceKind  `json:"source"`

	// audio_chunk
	AudioBase64 string `json:"audio_base64"`
	MIMEType    string `json:"mime_type"`
	DurationMS  int64  `json:"duration_ms"`
}

type wsServerMsg struct {
	Type     string           `json:"type"`
	Code     utils.Code       `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) writeError(err error) error {
	msg := wsServerMsg{Type: "error", Code: utils.CodeOf(err), Message: err.Error()}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		msg.Message = ae.Message
	}
	return w.writeJSON(msg)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// snapshotFrame wraps a published snapshot payload without re-encoding it.
func snapshotFrame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+32)
	out = append(out, `{"type":"snapshot","snapshot":`...)
	out = append(out, payload...)
	return append(out, '}')
}

func (h *WSHandler) InterviewWS(c *gin.Context) {
	const op = "WSHandler.InterviewWS"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	interviewID, ok := interviewParam(c)
	if !ok {
		return
	}

	iv, err := h.interviews.Get(c.Request.Context(), interviewID, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	// subscribe before upgrading so a failure is still a plain HTTP error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := h.broker.Subscribe(ctx, interviewID)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "failed to subscribe to interview updates", err))
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	wc := &wsConn{c: conn}
	log := h.log.WithFields(logrus.Fields{"interview_id": interviewID, "user_id": userID})

	// the client is the microphone for as long as it is connected
	iv.PCM.Attach()
	iv.Relay.Attach()
	defer func() {
		iv.PCM.Detach()
		iv.Relay.Detach()
		log.Info("audio client disconnected")
	}()
	log.Info("audio client connected")

	first := iv.Controller.Snapshot()
	_ = wc.writeJSON(wsServerMsg{Type: "snapshot", Snapshot: &first})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(ctx, wc, iv, userID, log)
	}()

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-pinger.C:
			if err := wc.ping(); err != nil {
				return
			}
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := wc.writeText(snapshotFrame(payload)); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, wc *wsConn, iv *session.Interview, userID string, log *logrus.Entry) {
	conn := wc.c
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if kind == websocket.BinaryMessage {
			// frames outside a pcm recording are dropped by the device
			_, _ = iv.PCM.Write(data)
			continue
		}

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler", "invalid json", err))
			continue
		}

		switch msg.Type {
		case "start":
			snap, err := h.interviews.Start(ctx, iv.ID, userID, session.StartOptions{
				Mode:             msg.Mode,
				ScreeningSection: msg.ScreeningSection,
				Source:           msg.Source,
			})
			if err != nil {
				_ = wc.writeError(err)
				continue
			}
			_ = wc.writeJSON(wsServerMsg{Type: "started", Snapshot: &snap})

		case "stop":
			// finalization can take a while; keep reading meanwhile
			go func() {
				snap, err := h.interviews.Stop(ctx, iv.ID, userID)
				if err != nil {
					_ = wc.writeError(err)
					return
				}
				_ = wc.writeJSON(wsServerMsg{Type: "stopped", Snapshot: &snap})
			}()

		case "audio_chunk":
			audio, err := decodeAudio(msg.AudioBase64)
			if err != nil {
				_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler", "invalid audio_base64", err))
				continue
			}
			mime := msg.MIMEType
			if mime == "" {
				mime = "audio/webm"
			}
			if err := iv.Relay.Push(audio, mime, time.Duration(msg.DurationMS)*time.Millisecond); err != nil {
				if errors.Is(err, capture.ErrNotRecording) {
					_ = wc.writeError(utils.E(utils.CodeConflict, "WSHandler", "not recording encoded audio", err))
					continue
				}
				_ = wc.writeError(err)
			}

		case "mic_denied":
			iv.PCM.Deny()
			iv.Relay.Deny()
			log.Warn("client reported microphone permission denied")

		case "ping":
			_ = wc.writeJSON(wsServerMsg{Type: "pong"})

		default:
			_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler", "unknown message type", nil))
		}
	}
}

// decodeAudio accepts bare base64 or a full data URI.
func decodeAudio(v string) ([]byte, error) {
	if i := strings.Index(v, ","); strings.HasPrefix(v, "data:") && i >= 0 {
		v = v[i+1:]
	}
	if v == "" {
		return nil, errors.New("empty audio")
	}
	return base64.StdEncoding.DecodeString(v)
}
