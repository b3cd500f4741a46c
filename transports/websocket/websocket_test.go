package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicerelay/core"
	"voicerelay/handlers/channel"
	"voicerelay/protocol"
	"voicerelay/utils/audio"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []channel.InboundEvent
	got    chan channel.InboundEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan channel.InboundEvent, 10)}
}

func (h *recordingHandler) Handle(ctx context.Context, ch channel.Channel, ev channel.InboundEvent) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	h.got <- ev

	switch ev.Kind {
	case channel.EventVoice:
		return ch.SendVoice(ctx, ev.ChatID, []byte("RIFF-reply"), "reply.wav")
	default:
		return ch.SendText(ctx, ev.ChatID, "ack:"+string(ev.Kind))
	}
}

func dial(t *testing.T, handler EventHandler, query string) *websocket.Conn {
	server := NewServer(WebSocketConfig{Path: "/ws"}, handler, core.NewNopLogger())
	ts := httptest.NewServer(server.Handler(context.Background()))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitEvent(t *testing.T, h *recordingHandler) channel.InboundEvent {
	select {
	case ev := <-h.got:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return channel.InboundEvent{}
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (protocol.MessageType, []byte) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	env, raw, err := protocol.Unmarshal(data)
	require.NoError(t, err)
	return env, raw
}

func TestServer_CommandAndText(t *testing.T) {
	h := newRecordingHandler()
	conn := dial(t, h, "?user_key=42")

	msg, err := protocol.Marshal(protocol.MsgCommand, protocol.CommandPayload{Name: "/Clear"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	ev := waitEvent(t, h)
	assert.Equal(t, channel.EventCommand, ev.Kind)
	assert.Equal(t, "clear", ev.Command)
	assert.Equal(t, int64(42), ev.UserKey)

	msgType, raw := readEnvelope(t, conn)
	assert.Equal(t, protocol.MsgText, msgType)
	p, err := protocol.UnmarshalPayload[protocol.TextPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "ack:command", p.Text)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("just typing")))
	ev = waitEvent(t, h)
	assert.Equal(t, channel.EventText, ev.Kind)
	assert.Equal(t, "just typing", ev.Text)
}

func TestServer_SlashTextIsCommand(t *testing.T) {
	h := newRecordingHandler()
	conn := dial(t, h, "?user_key=1")

	msg, err := protocol.Marshal(protocol.MsgText, protocol.TextPayload{Text: "/help"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	ev := waitEvent(t, h)
	assert.Equal(t, channel.EventCommand, ev.Kind)
	assert.Equal(t, "help", ev.Command)
}

func TestServer_ContainerVoiceRoundTrip(t *testing.T) {
	h := newRecordingHandler()
	conn := dial(t, h, "?user_key=7")

	header, err := protocol.Marshal(protocol.MsgAudio, protocol.AudioPayload{Format: "ogg"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, header))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("OggS-data")))

	ev := waitEvent(t, h)
	assert.Equal(t, channel.EventVoice, ev.Kind)
	assert.Equal(t, "voice.ogg", ev.Filename)
	assert.Equal(t, []byte("OggS-data"), ev.Audio)

	msgType, raw := readEnvelope(t, conn)
	require.Equal(t, protocol.MsgVoice, msgType)
	vp, err := protocol.UnmarshalPayload[protocol.VoicePayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "wav", vp.Format)
	assert.Equal(t, len("RIFF-reply"), vp.Size)

	binType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, binType)
	assert.Equal(t, []byte("RIFF-reply"), data)
}

func TestServer_RawULawIsWrapped(t *testing.T) {
	h := newRecordingHandler()
	conn := dial(t, h, "?user_key=7")

	header, err := protocol.Marshal(protocol.MsgAudio, protocol.AudioPayload{Format: "ulaw", SampleRate: 8000, Channels: 1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, header))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0x7F, 0x00, 0x80}))

	ev := waitEvent(t, h)
	assert.Equal(t, "voice.wav", ev.Filename)
	data, err := audio.WAVData(ev.Audio)
	require.NoError(t, err)
	assert.Len(t, data, 8)
}

func TestServer_RejectsUnknownType(t *testing.T) {
	h := newRecordingHandler()
	conn := dial(t, h, "?user_key=7")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"launch"}`)))
	msgType, _ := readEnvelope(t, conn)
	assert.Equal(t, protocol.MsgError, msgType)
}

func TestServer_RejectsRelayOnlyType(t *testing.T) {
	h := newRecordingHandler()
	conn := dial(t, h, "?user_key=7")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"voice","payload":{"filename":"x.wav"}}`)))
	msgType, _ := readEnvelope(t, conn)
	assert.Equal(t, protocol.MsgError, msgType)
}

func TestServer_BadUserKey(t *testing.T) {
	server := NewServer(WebSocketConfig{}, newRecordingHandler(), core.NewNopLogger())
	ts := httptest.NewServer(server.Handler(context.Background()))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_key=abc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
