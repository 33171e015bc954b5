package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"ltc-node/artnet"
	"ltc-node/protocol"
	"ltc-node/timecode"
)

// DefaultStatusInterval は status を定期配信する間隔
const DefaultStatusInterval = 5 * time.Second

// StatusSource は現在の状態を返すもの（*timecode.Reader が満たす）
type StatusSource interface {
	Status() timecode.Status
}

// NodeSource はノード探索テーブル（*artnet.PollTable が満たす）
type NodeSource interface {
	Len() int
	Entries() []artnet.NodeEntry
}

// Poller は ArtPoll の即時送信を行うもの（*artnet.Controller が満たす）
type Poller interface {
	Poll() error
}

// Options は StatusServer の設定
type Options struct {
	Addr           string
	Status         StatusSource
	Nodes          NodeSource // nil 可
	Poller         Poller     // nil 可
	Disabled       *timecode.DisabledOutputs
	StatusInterval time.Duration
	WebRoot        string
	// Transport を指定しない場合は Addr で待ち受ける DefaultWebSocketTransport を使う
	Transport WebSocketTransport
}

// StatusServer はタイムコードの状態を WebSocket クライアントに配信する。
// timecode.Sink として OutputWebSocket に登録する。
//
// Sink のメソッドはデコード側から呼ばれるため送信を待たない。
// 最新値だけを保持し、配信は Run のゴルーチンが行う。
type StatusServer struct {
	transport      WebSocketTransport
	status         StatusSource
	nodes          NodeSource
	poller         Poller
	disabled       *timecode.DisabledOutputs
	statusInterval time.Duration

	latestTC     atomic.Pointer[protocol.TimeCode]
	latestType   atomic.Pointer[protocol.TypePayload]
	signalLost   atomic.Bool
	lost         atomic.Bool // 信号断を通知済みで、まだタイムコードを受け取っていない
	nodesChanged atomic.Bool
	notify       chan struct{}
}

// NewStatusServer は StatusServer を作成する
func NewStatusServer(ctx context.Context, opts Options) (*StatusServer, error) {
	if opts.Status == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if opts.Disabled == nil {
		opts.Disabled = timecode.NewDisabledOutputs(0)
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}

	s := &StatusServer{
		status:         opts.Status,
		nodes:          opts.Nodes,
		poller:         opts.Poller,
		disabled:       opts.Disabled,
		statusInterval: opts.StatusInterval,
		notify:         make(chan struct{}, 1),
	}

	transport := opts.Transport
	if transport == nil {
		transport = NewDefaultWebSocketTransport(ctx, opts.Addr)
	}
	if t, ok := transport.(*DefaultWebSocketTransport); ok {
		t.Handle("/status", http.HandlerFunc(s.serveStatus))
		if err := t.SetupStaticFileServer(opts.WebRoot); err != nil {
			return nil, err
		}
	}
	s.transport = transport

	transport.SetConnectHandler(s.handleClientConnect)
	transport.SetMessageHandler(s.handleClientMessage)
	transport.SetDisconnectHandler(s.handleClientDisconnect)

	return s, nil
}

func (s *StatusServer) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// TimeCodeChanged は最新のタイムコードを保持する
func (s *StatusServer) TimeCodeChanged(tc timecode.TimeCode, _ timecode.Text) error {
	p := protocol.TimeCodeToProtocol(tc)
	s.latestTC.Store(&p)
	s.lost.Store(false)
	s.wake()
	return nil
}

// TypeChanged は種別変更を保持する
func (s *StatusServer) TypeChanged(tc timecode.TimeCode) error {
	p := protocol.TypeToProtocol(tc.Type)
	s.latestType.Store(&p)
	s.wake()
	return nil
}

// SignalLost は信号断を通知する。信号なしの間は繰り返し呼ばれるが、
// 配信するのは次のタイムコードを受け取るまでに1回だけ。
func (s *StatusServer) SignalLost() error {
	if s.lost.Swap(true) {
		return nil
	}
	s.signalLost.Store(true)
	s.wake()
	return nil
}

// NodesChanged はノード一覧の再配信を要求する（artnet.ControllerOptions.OnNodesChanged 用）
func (s *StatusServer) NodesChanged() {
	s.nodesChanged.Store(true)
	s.wake()
}

// Run はサーバーを起動し、ctx がキャンセルされるまで配信を続ける
func (s *StatusServer) Run(ctx context.Context, options StartOptions) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.transport.Start(options)
	}()

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.transport.Stop(); err != nil {
				return err
			}
			return <-errCh
		case err := <-errCh:
			return err
		case <-s.notify:
			s.flush()
		case <-ticker.C:
			s.broadcastMessageToClients(protocol.MessageTypeStatus, s.statusPayload())
		}
	}
}

// flush は保持している最新値を配信する。種別変更はタイムコードより先に送る。
func (s *StatusServer) flush() {
	if p := s.latestType.Swap(nil); p != nil {
		s.broadcastMessageToClients(protocol.MessageTypeType, *p)
	}
	if p := s.latestTC.Swap(nil); p != nil {
		s.broadcastMessageToClients(protocol.MessageTypeTimeCode, *p)
	}
	if s.signalLost.Swap(false) {
		s.broadcastMessageToClients(protocol.MessageTypeSignalLost, struct{}{})
	}
	if s.nodesChanged.Swap(false) {
		s.broadcastMessageToClients(protocol.MessageTypeNodes, s.nodesPayload())
	}
}

func (s *StatusServer) statusPayload() protocol.StatusPayload {
	nodes := 0
	if s.nodes != nil {
		nodes = s.nodes.Len()
	}
	return protocol.StatusToProtocol(s.status.Status(), nodes)
}

func (s *StatusServer) nodesPayload() protocol.NodesPayload {
	if s.nodes == nil {
		return protocol.NodesToProtocol(nil)
	}
	return protocol.NodesToProtocol(s.nodes.Entries())
}

// serveStatus は GET /status に JSON で状態を返す
func (s *StatusServer) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.statusPayload()); err != nil {
		slog.Warn("Error writing status response", "err", err)
	}
}

// handleClientConnect は接続直後に status と nodes を送る
func (s *StatusServer) handleClientConnect(connID string) error {
	slog.Debug("WebSocket connection established", "connID", connID)

	if err := s.sendMessageToClient(connID, protocol.MessageTypeStatus, s.statusPayload(), ""); err != nil {
		return err
	}
	return s.sendMessageToClient(connID, protocol.MessageTypeNodes, s.nodesPayload(), "")
}

func (s *StatusServer) handleClientDisconnect(connID string) {
	slog.Debug("WebSocket connection closed", "connID", connID)
}

// handleClientMessage is called when a message is received from a client
func (s *StatusServer) handleClientMessage(connID string, message []byte) error {
	msg, err := protocol.ParseMessage(message)
	if err != nil {
		slog.Warn("Error parsing message", "err", err)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Error parsing message: %v", err),
		}
		return s.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, "")
	}

	switch msg.Type {
	case protocol.MessageTypeGetStatus:
		return s.sendMessageToClient(connID, protocol.MessageTypeStatus, s.statusPayload(), msg.RequestID)
	case protocol.MessageTypeGetNodes:
		return s.sendMessageToClient(connID, protocol.MessageTypeNodes, s.nodesPayload(), msg.RequestID)
	case protocol.MessageTypeSetOutput:
		return s.handleSetOutput(connID, msg)
	case protocol.MessageTypePoll:
		return s.handlePoll(connID, msg)
	default:
		slog.Warn("Unknown message type", "type", msg.Type)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Type),
		}
		return s.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, msg.RequestID)
	}
}

func (s *StatusServer) handleSetOutput(connID string, msg *protocol.Message) error {
	var payload protocol.SetOutputPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return s.sendCommandError(connID, msg.RequestID, protocol.ErrorCodeInvalidParameters, fmt.Sprintf("invalid payload: %v", err))
	}

	output, err := timecode.ParseOutput(payload.Output)
	if err != nil {
		return s.sendCommandError(connID, msg.RequestID, protocol.ErrorCodeInvalidParameters, err.Error())
	}

	if payload.Enabled {
		s.disabled.Enable(output)
	} else {
		s.disabled.Disable(output)
	}
	slog.Info("Output toggled", "output", output, "enabled", payload.Enabled, "connID", connID)

	if err := s.sendMessageToClient(connID, protocol.MessageTypeCommandResult, protocol.CommandResultPayload{Success: true}, msg.RequestID); err != nil {
		return err
	}
	return s.broadcastMessageToClients(protocol.MessageTypeStatus, s.statusPayload())
}

func (s *StatusServer) handlePoll(connID string, msg *protocol.Message) error {
	if s.poller == nil {
		return s.sendCommandError(connID, msg.RequestID, protocol.ErrorCodeUnavailable, "art-net is not enabled")
	}
	if err := s.poller.Poll(); err != nil {
		return s.sendCommandError(connID, msg.RequestID, protocol.ErrorCodeInternalServerError, err.Error())
	}
	return s.sendMessageToClient(connID, protocol.MessageTypeCommandResult, protocol.CommandResultPayload{Success: true}, msg.RequestID)
}

func (s *StatusServer) sendCommandError(connID, requestID string, code protocol.ErrorCode, message string) error {
	payload := protocol.CommandResultPayload{
		Success: false,
		Error:   &protocol.Error{Code: code, Message: message},
	}
	return s.sendMessageToClient(connID, protocol.MessageTypeCommandResult, payload, requestID)
}

// sendMessageToClient sends a message to a client
func (s *StatusServer) sendMessageToClient(connID string, msgType protocol.MessageType, payload interface{}, requestID string) error {
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}
	return s.transport.SendMessage(connID, data)
}

// broadcastMessageToClients sends a message to all connected clients
func (s *StatusServer) broadcastMessageToClients(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.CreateMessage(msgType, payload, "")
	if err != nil {
		slog.Error("Error creating broadcast message", "err", err)
		return err
	}
	return s.transport.BroadcastMessage(data)
}
