// Package websocket is a local channel for the relay: a client connects,
// sends commands, text or voice messages as JSON envelopes plus binary
// frames, and receives replies the same way.
package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicerelay/core"
	"voicerelay/handlers/channel"
	"voicerelay/protocol"
	"voicerelay/utils/audio"
)

const defaultReadHeaderTimeout = 10 * time.Second

type WebSocketConfig struct {
	Addr            string `json:"addr"`              // Listen address, e.g. ":8080".
	Path            string `json:"path"`              // Upgrade path, e.g. "/ws".
	MaxMessageBytes int64  `json:"max_message_bytes"` // Largest accepted frame.
}

func DefaultConfig() WebSocketConfig {
	return WebSocketConfig{
		Addr:            ":8080",
		Path:            "/ws",
		MaxMessageBytes: 20 << 20,
	}
}

// EventHandler consumes inbound events; implemented by channel.ChannelHandler.
type EventHandler interface {
	Handle(ctx context.Context, ch channel.Channel, ev channel.InboundEvent) error
}

// Server accepts websocket clients and feeds their messages to an EventHandler.
type Server struct {
	config   WebSocketConfig
	handler  EventHandler
	upgrader websocket.Upgrader
	logger   *core.Logger
}

func NewServer(config WebSocketConfig, handler EventHandler, logger *core.Logger) *Server {
	if logger == nil {
		logger = core.GetLogger()
	}
	defaults := DefaultConfig()
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = defaults.MaxMessageBytes
	}
	return &Server{
		config:  config,
		handler: handler,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(map[string]interface{}{"component": "websocket"}),
	}
}

// Handler returns the mux serving the upgrade path.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, func(w http.ResponseWriter, r *http.Request) {
		s.serveConn(ctx, w, r)
	})
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("WebSocket channel listening", "addr", s.config.Addr, "path", s.config.Path)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) serveConn(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	userKey, err := userKeyFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(s.config.MaxMessageBytes)

	ws := NewWebSocketService(conn)
	defer ws.Close()

	logger := s.logger.With(map[string]interface{}{"user_key": userKey})
	logger.Info("Client connected", "remote", r.RemoteAddr)

	// On disconnect: cancel in-flight exchanges, wait for them, then close.
	var wg sync.WaitGroup
	defer wg.Wait()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A pending audio header waits for its binary frame.
	var pending *protocol.AudioPayload

	for {
		messageType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Read loop ended", "error", err)
			}
			logger.Info("Client disconnected")
			return
		}

		var ev *channel.InboundEvent
		switch messageType {
		case websocket.TextMessage:
			ev, pending, err = parseTextFrame(msg, userKey)
		case websocket.BinaryMessage:
			header := defaultAudioHeader()
			if pending != nil {
				header = *pending
				pending = nil
			}
			ev, err = voiceEvent(msg, header, userKey)
		}
		if err != nil {
			logger.Warn("Rejected client message", "error", err)
			_ = ws.sendEnvelope(protocol.MsgError, protocol.ErrorPayload{Message: err.Error()})
			continue
		}
		if ev == nil {
			continue
		}

		// Each event runs on its own goroutine; the orchestrator serializes
		// exchanges of the same user.
		wg.Add(1)
		go func(ev channel.InboundEvent) {
			defer wg.Done()
			_ = s.handler.Handle(connCtx, ws, ev)
		}(*ev)
	}
}

// parseTextFrame returns the event carried by a text frame, or the audio
// header to apply to the next binary frame.
func parseTextFrame(msg []byte, userKey int64) (*channel.InboundEvent, *protocol.AudioPayload, error) {
	msgType, raw, err := protocol.Unmarshal(msg)
	if errors.Is(err, protocol.ErrNotEnvelope) {
		// Bare text is a text message.
		return &channel.InboundEvent{Kind: channel.EventText, UserKey: userKey, ChatID: userKey, Text: string(msg)}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if !msgType.FromClient() {
		return nil, nil, errors.New("message type " + strconv.Quote(string(msgType)) + " is not accepted from clients")
	}

	switch msgType {
	case protocol.MsgText:
		p, err := protocol.UnmarshalPayload[protocol.TextPayload](raw)
		if err != nil {
			return nil, nil, err
		}
		if name, ok := channel.ParseCommand(p.Text); ok {
			return &channel.InboundEvent{Kind: channel.EventCommand, UserKey: userKey, ChatID: userKey, Command: name}, nil, nil
		}
		return &channel.InboundEvent{Kind: channel.EventText, UserKey: userKey, ChatID: userKey, Text: p.Text}, nil, nil
	case protocol.MsgCommand:
		p, err := protocol.UnmarshalPayload[protocol.CommandPayload](raw)
		if err != nil {
			return nil, nil, err
		}
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p.Name), "/"))
		return &channel.InboundEvent{Kind: channel.EventCommand, UserKey: userKey, ChatID: userKey, Command: name}, nil, nil
	case protocol.MsgAudio:
		p, err := protocol.UnmarshalPayload[protocol.AudioPayload](raw)
		if err != nil {
			return nil, nil, err
		}
		return nil, &p, nil
	default:
		return nil, nil, errors.New("unsupported message type " + strconv.Quote(string(msgType)))
	}
}

// defaultAudioHeader applies to binary frames sent without a header.
func defaultAudioHeader() protocol.AudioPayload {
	return protocol.AudioPayload{Format: string(audio.EncodingPCM), SampleRate: 24000, Channels: 1}
}

// voiceEvent turns a binary frame into a voice event. Containers pass
// through; raw encodings are wrapped into WAV first.
func voiceEvent(data []byte, header protocol.AudioPayload, userKey int64) (*channel.InboundEvent, error) {
	format := strings.ToLower(header.Format)
	ev := &channel.InboundEvent{Kind: channel.EventVoice, UserKey: userKey, ChatID: userKey}

	if audio.IsContainer(format) {
		ev.Audio = data
		ev.Filename = "voice." + format
		return ev, nil
	}

	channels := header.Channels
	if channels <= 0 {
		channels = 1
	}
	rate := header.SampleRate
	if rate <= 0 {
		rate = 16000
		if format == string(audio.EncodingULaw) || format == string(audio.EncodingALaw) {
			rate = 8000
		}
	}
	wav, err := audio.RawToWav(data, audio.Encoding(format), channels, rate)
	if err != nil {
		return nil, err
	}
	ev.Audio = wav
	ev.Filename = "voice.wav"
	return ev, nil
}

// userKeyFromRequest takes the key from ?user_key=, or derives one for an
// anonymous connection.
func userKeyFromRequest(r *http.Request) (int64, error) {
	if v := r.URL.Query().Get("user_key"); v != "" {
		key, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.New("user_key must be an integer")
		}
		return key, nil
	}
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]) >> 1), nil
}

// WebSocketService implements channel.Channel over one client connection.
type WebSocketService struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

// NewWebSocketService creates a new WebSocketService with an existing connection
func NewWebSocketService(conn *websocket.Conn) *WebSocketService {
	return &WebSocketService{conn: conn}
}

func (ws *WebSocketService) Name() string {
	return "websocket"
}

// SendText sends a text envelope. chatID is implied by the connection.
func (ws *WebSocketService) SendText(ctx context.Context, chatID int64, text string) error {
	return ws.sendEnvelope(protocol.MsgText, protocol.TextPayload{Text: text})
}

// SendVoice sends a voice header followed by the audio as a binary frame.
func (ws *WebSocketService) SendVoice(ctx context.Context, chatID int64, data []byte, filename string) error {
	header, err := protocol.Marshal(protocol.MsgVoice, protocol.VoicePayload{
		Filename: filename,
		Format:   strings.TrimPrefix(filepath.Ext(filename), "."),
		Size:     len(data),
	})
	if err != nil {
		return err
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return websocket.ErrCloseSent
	}
	if err := ws.conn.WriteMessage(websocket.TextMessage, header); err != nil {
		return err
	}
	return ws.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (ws *WebSocketService) sendEnvelope(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return websocket.ErrCloseSent
	}
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts down the WebSocket connection
func (ws *WebSocketService) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return nil
	}
	err := ws.conn.Close()
	ws.conn = nil
	return err
}
