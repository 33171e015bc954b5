// Package midi は MIDI Time Code の出力を扱う
package midi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"ltc-node/timecode"
)

// ErrClosed は閉じた Sink への書き込み
var ErrClosed = errors.New("midi: output closed")

// FullFrameMessage はフルフレームの SysEx (F0 7F 7F 01 01 hh mm ss ff F7) を組み立てる。
// hh の上位3ビットにレートコードが入る。
func FullFrameMessage(tc timecode.TimeCode) [10]byte {
	return [10]byte{
		0xF0, 0x7F, 0x7F, 0x01, 0x01,
		(uint8(tc.Type)&0x03)<<5 | tc.Hours&0x1F,
		tc.Minutes,
		tc.Seconds,
		tc.Frames,
		0xF7,
	}
}

// Sink は MIDI 出力。クォーターフレームは timecode.Reader のポーリングループから、
// フルフレームはデコードハンドラから書き込まれるので、書き込みは直列化する。
type Sink struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

// NewSink は w に書き込む Sink を作成する
func NewSink(w io.WriteCloser) *Sink {
	return &Sink{w: w}
}

// SendRaw はバイト列をそのまま送る
func (s *Sink) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("midi write: %w", err)
	}
	return nil
}

// TimeCodeChanged は何もしない。値の変化はクォーターフレームで伝わる。
func (s *Sink) TimeCodeChanged(timecode.TimeCode, timecode.Text) error {
	return nil
}

// TypeChanged はフルフレームを送って受信側を同期させる
func (s *Sink) TypeChanged(tc timecode.TimeCode) error {
	msg := FullFrameMessage(tc)
	return s.SendRaw(msg[:])
}

// Close は出力を閉じる
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	slog.Info("MIDI 出力を閉じました")
	return s.w.Close()
}
