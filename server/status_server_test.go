package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ltc-node/artnet"
	"ltc-node/protocol"
	"ltc-node/timecode"
)

// fakeTransport は送信内容を記録する WebSocketTransport
type fakeTransport struct {
	mu         sync.Mutex
	sent       map[string][]*protocol.Message
	broadcasts []*protocol.Message
	stop       chan struct{}
	stopOnce   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent: make(map[string][]*protocol.Message),
		stop: make(chan struct{}),
	}
}

func (f *fakeTransport) Start(options StartOptions) error {
	if options.Ready != nil {
		close(options.Ready)
	}
	<-f.stop
	return nil
}

func (f *fakeTransport) Stop() error {
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeTransport) SetMessageHandler(func(string, []byte) error) {}
func (f *fakeTransport) SetConnectHandler(func(string) error)         {}
func (f *fakeTransport) SetDisconnectHandler(func(string))            {}

func (f *fakeTransport) SendMessage(connID string, message []byte) error {
	msg, err := protocol.ParseMessage(message)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], msg)
	return nil
}

func (f *fakeTransport) BroadcastMessage(message []byte) error {
	msg, err := protocol.ParseMessage(message)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, msg)
	return nil
}

func (f *fakeTransport) sentTo(connID string) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Message(nil), f.sent[connID]...)
}

func (f *fakeTransport) broadcastTypes() []protocol.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]protocol.MessageType, 0, len(f.broadcasts))
	for _, m := range f.broadcasts {
		types = append(types, m.Type)
	}
	return types
}

type fakeStatus struct {
	disabled *timecode.DisabledOutputs
}

func (f fakeStatus) Status() timecode.Status {
	return timecode.Status{
		TimeCode:    timecode.TimeCode{Hours: 10, Type: timecode.TypeEBU},
		HasTimeCode: true,
		Mode:        timecode.ModeLocked,
		LimitMicros: 40000,
		Disabled:    f.disabled.Names(),
	}
}

type mockPoller struct {
	mock.Mock
}

func (m *mockPoller) Poll() error {
	return m.Called().Error(0)
}

func newTestServer(t *testing.T, poller Poller) (*StatusServer, *fakeTransport, *timecode.DisabledOutputs, *artnet.PollTable) {
	t.Helper()
	disabled := timecode.NewDisabledOutputs(0)
	table := artnet.NewPollTable()
	_, err := table.Add(artnet.PollReply{IP: netip.MustParseAddr("2.0.0.10"), ShortName: "node-a"})
	require.NoError(t, err)

	transport := newFakeTransport()
	opts := Options{
		Status:    fakeStatus{disabled: disabled},
		Nodes:     table,
		Disabled:  disabled,
		Transport: transport,
	}
	if poller != nil {
		opts.Poller = poller
	}
	s, err := NewStatusServer(context.Background(), opts)
	require.NoError(t, err)
	return s, transport, disabled, table
}

func request(t *testing.T, msgType protocol.MessageType, payload interface{}, requestID string) []byte {
	t.Helper()
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	require.NoError(t, err)
	return data
}

func commandResult(t *testing.T, msg *protocol.Message) protocol.CommandResultPayload {
	t.Helper()
	require.Equal(t, protocol.MessageTypeCommandResult, msg.Type)
	var result protocol.CommandResultPayload
	require.NoError(t, protocol.ParsePayload(msg, &result))
	return result
}

func TestNewStatusServer_RequiresStatus(t *testing.T) {
	_, err := NewStatusServer(context.Background(), Options{Transport: newFakeTransport()})
	assert.Error(t, err)
}

func TestStatusServer_FlushKeepsLatestOnly(t *testing.T) {
	s, transport, _, _ := newTestServer(t, nil)

	tc := timecode.TimeCode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4, Type: timecode.TypeSMPTE}
	require.NoError(t, s.TypeChanged(tc))
	require.NoError(t, s.TimeCodeChanged(timecode.TimeCode{Type: timecode.TypeSMPTE}, timecode.Text{}))
	require.NoError(t, s.TimeCodeChanged(tc, timecode.FormatText(tc)))
	require.NoError(t, s.SignalLost())
	s.NodesChanged()

	s.flush()

	assert.Equal(t, []protocol.MessageType{
		protocol.MessageTypeType,
		protocol.MessageTypeTimeCode,
		protocol.MessageTypeSignalLost,
		protocol.MessageTypeNodes,
	}, transport.broadcastTypes())

	var got protocol.TimeCode
	require.NoError(t, protocol.ParsePayload(transport.broadcasts[1], &got))
	assert.Equal(t, "01:02.03:04", got.Text)

	// 2回目は何も残っていない
	s.flush()
	assert.Len(t, transport.broadcastTypes(), 4)
}

func TestStatusServer_SignalLostOncePerLoss(t *testing.T) {
	s, transport, _, _ := newTestServer(t, nil)

	countLost := func() int {
		n := 0
		for _, typ := range transport.broadcastTypes() {
			if typ == protocol.MessageTypeSignalLost {
				n++
			}
		}
		return n
	}

	// 信号なしの間、ポーリングループは 100ms ごとに通知してくる
	for i := 0; i < 10; i++ {
		require.NoError(t, s.SignalLost())
		s.flush()
	}
	assert.Equal(t, 1, countLost())

	tc := timecode.TimeCode{Hours: 1, Type: timecode.TypeEBU}
	require.NoError(t, s.TimeCodeChanged(tc, timecode.FormatText(tc)))
	s.flush()
	assert.Equal(t, 1, countLost())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SignalLost())
		s.flush()
	}
	assert.Equal(t, 2, countLost())
}

func TestStatusServer_GetStatusAndNodes(t *testing.T) {
	s, transport, _, _ := newTestServer(t, nil)

	require.NoError(t, s.handleClientMessage("c1", request(t, protocol.MessageTypeGetStatus, struct{}{}, "r1")))
	require.NoError(t, s.handleClientMessage("c1", request(t, protocol.MessageTypeGetNodes, struct{}{}, "r2")))

	msgs := transport.sentTo("c1")
	require.Len(t, msgs, 2)

	assert.Equal(t, "r1", msgs[0].RequestID)
	var status protocol.StatusPayload
	require.NoError(t, protocol.ParsePayload(msgs[0], &status))
	assert.Equal(t, "locked", status.Mode)
	assert.Equal(t, 1, status.Nodes)
	require.NotNil(t, status.TimeCode)
	assert.Equal(t, "10:00.00:00", status.TimeCode.Text)

	assert.Equal(t, "r2", msgs[1].RequestID)
	var nodes protocol.NodesPayload
	require.NoError(t, protocol.ParsePayload(msgs[1], &nodes))
	require.Len(t, nodes.Nodes, 1)
	assert.Equal(t, "2.0.0.10", nodes.Nodes[0].IP)
	assert.Equal(t, "node-a", nodes.Nodes[0].ShortName)
	assert.Equal(t, 1, nodes.Nodes[0].Index)
}

func TestStatusServer_SetOutput(t *testing.T) {
	s, transport, disabled, _ := newTestServer(t, nil)

	require.NoError(t, s.handleClientMessage("c1", request(t, protocol.MessageTypeSetOutput,
		protocol.SetOutputPayload{Output: "midi", Enabled: false}, "r1")))
	assert.True(t, disabled.IsDisabled(timecode.OutputMidi))

	msgs := transport.sentTo("c1")
	require.Len(t, msgs, 1)
	assert.True(t, commandResult(t, msgs[0]).Success)
	assert.Equal(t, []protocol.MessageType{protocol.MessageTypeStatus}, transport.broadcastTypes())

	var status protocol.StatusPayload
	require.NoError(t, protocol.ParsePayload(transport.broadcasts[0], &status))
	assert.Equal(t, []string{"midi"}, status.Disabled)

	require.NoError(t, s.handleClientMessage("c1", request(t, protocol.MessageTypeSetOutput,
		protocol.SetOutputPayload{Output: "midi", Enabled: true}, "r2")))
	assert.False(t, disabled.IsDisabled(timecode.OutputMidi))
}

func TestStatusServer_SetOutputUnknown(t *testing.T) {
	s, transport, disabled, _ := newTestServer(t, nil)

	require.NoError(t, s.handleClientMessage("c1", request(t, protocol.MessageTypeSetOutput,
		protocol.SetOutputPayload{Output: "dmx"}, "r1")))

	result := commandResult(t, transport.sentTo("c1")[0])
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, protocol.ErrorCodeInvalidParameters, result.Error.Code)
	assert.Equal(t, timecode.Output(0), disabled.Mask())
	assert.Empty(t, transport.broadcastTypes())
}

func TestStatusServer_Poll(t *testing.T) {
	t.Run("no controller", func(t *testing.T) {
		s, transport, _, _ := newTestServer(t, nil)
		require.NoError(t, s.handleClientMessage("c1", request(t, protocol.MessageTypePoll, struct{}{}, "")))
		result := commandResult(t, transport.sentTo("c1")[0])
		assert.False(t, result.Success)
		assert.Equal(t, protocol.ErrorCodeUnavailable, result.Error.Code)
	})

	t.Run("success", func(t *testing.T) {
		poller := &mockPoller{}
		poller.On("Poll").Return(nil).Once()
		s, transport, _, _ := newTestServer(t, poller)
		require.NoError(t, s.handleClientMessage("c1", request(t, protocol.MessageTypePoll, struct{}{}, "")))
		assert.True(t, commandResult(t, transport.sentTo("c1")[0]).Success)
		poller.AssertExpectations(t)
	})

	t.Run("failure", func(t *testing.T) {
		poller := &mockPoller{}
		poller.On("Poll").Return(errors.New("network is unreachable")).Once()
		s, transport, _, _ := newTestServer(t, poller)
		require.NoError(t, s.handleClientMessage("c1", request(t, protocol.MessageTypePoll, struct{}{}, "")))
		result := commandResult(t, transport.sentTo("c1")[0])
		assert.False(t, result.Success)
		assert.Equal(t, protocol.ErrorCodeInternalServerError, result.Error.Code)
		poller.AssertExpectations(t)
	})
}

func TestStatusServer_BadMessages(t *testing.T) {
	s, transport, _, _ := newTestServer(t, nil)

	require.NoError(t, s.handleClientMessage("c1", []byte("not json")))
	require.NoError(t, s.handleClientMessage("c1", request(t, "reboot", struct{}{}, "r9")))

	msgs := transport.sentTo("c1")
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, protocol.MessageTypeErrorNotification, m.Type)
		var p protocol.ErrorNotificationPayload
		require.NoError(t, protocol.ParsePayload(m, &p))
		assert.Equal(t, protocol.ErrorCodeInvalidRequestFormat, p.Code)
	}
	assert.Equal(t, "r9", msgs[1].RequestID)
}

func TestStatusServer_Run(t *testing.T) {
	s, transport, _, _ := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, StartOptions{Ready: ready})
	}()
	<-ready

	tc := timecode.TimeCode{Seconds: 5, Type: timecode.TypeEBU}
	require.NoError(t, s.TimeCodeChanged(tc, timecode.FormatText(tc)))

	require.Eventually(t, func() bool {
		types := transport.broadcastTypes()
		return len(types) == 1 && types[0] == protocol.MessageTypeTimeCode
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStatusServer_WebSocketRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disabled := timecode.NewDisabledOutputs(timecode.OutputNtp)
	transport := NewDefaultWebSocketTransport(ctx, ":0")
	_, err := NewStatusServer(ctx, Options{
		Status:    fakeStatus{disabled: disabled},
		Disabled:  disabled,
		Transport: transport,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage := func() *protocol.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msg, err := protocol.ParseMessage(data)
		require.NoError(t, err)
		return msg
	}

	// 接続直後に status と nodes が届く
	assert.Equal(t, protocol.MessageTypeStatus, readMessage().Type)
	nodes := readMessage()
	assert.Equal(t, protocol.MessageTypeNodes, nodes.Type)
	var np protocol.NodesPayload
	require.NoError(t, protocol.ParsePayload(nodes, &np))
	assert.Empty(t, np.Nodes)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, request(t, protocol.MessageTypeGetStatus, struct{}{}, "abc")))
	reply := readMessage()
	assert.Equal(t, protocol.MessageTypeStatus, reply.Type)
	assert.Equal(t, "abc", reply.RequestID)

	var status protocol.StatusPayload
	require.NoError(t, protocol.ParsePayload(reply, &status))
	assert.Equal(t, []string{"ntp"}, status.Disabled)
	assert.Equal(t, 1, transport.ClientCount())
}

func TestStatusServer_HTTPStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := NewDefaultWebSocketTransport(ctx, ":0")
	_, err := NewStatusServer(ctx, Options{
		Status:    fakeStatus{disabled: timecode.NewDisabledOutputs(0)},
		Transport: transport,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status protocol.StatusPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, uint32(40000), status.LimitMicros)

	post, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}
