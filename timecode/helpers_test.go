package timecode

import (
	"errors"
	"sync"
	"time"
)

// fakeTimer は手動で発火させるテスト用タイマー
type fakeTimer struct {
	mu        sync.Mutex
	fn        func()
	intervals []time.Duration
	started   bool
	stopped   bool
}

func (t *fakeTimer) Start(interval time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = fn
	t.started = true
	t.stopped = false
	if interval > 0 {
		t.intervals = append(t.intervals, interval)
	}
}

func (t *fakeTimer) Reset(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fn == nil || interval <= 0 {
		return
	}
	t.intervals = append(t.intervals, interval)
}

func (t *fakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTimer) Fire() {
	t.mu.Lock()
	fn := t.fn
	stopped := t.stopped
	t.mu.Unlock()
	if fn != nil && !stopped {
		fn()
	}
}

func (t *fakeTimer) Last() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.intervals) == 0 {
		return 0
	}
	return t.intervals[len(t.intervals)-1]
}

// recordingSink は受け取ったイベントを記録する Sink
type recordingSink struct {
	mu        sync.Mutex
	timecodes []TimeCode
	texts     []string
	types     []Type
	lost      int
	err       error
}

func (s *recordingSink) TimeCodeChanged(tc TimeCode, text Text) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timecodes = append(s.timecodes, tc)
	s.texts = append(s.texts, text.String())
	return s.err
}

func (s *recordingSink) TypeChanged(tc TimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, tc.Type)
	return s.err
}

func (s *recordingSink) SignalLost() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost++
	return s.err
}

func (s *recordingSink) valueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timecodes)
}

func (s *recordingSink) typeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.types)
}

// panicSink は呼ばれるたびに panic する
type panicSink struct{}

func (panicSink) TimeCodeChanged(TimeCode, Text) error { panic("boom") }
func (panicSink) TypeChanged(TimeCode) error           { panic("boom") }

var errSink = errors.New("sink failure")

// rawRecorder はクォーターフレームの送信内容を記録する
type rawRecorder struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *rawRecorder) SendRaw(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, append([]byte(nil), data...))
	return nil
}

func (r *rawRecorder) sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs...)
}

// blinkRecorder は点滅周期の設定履歴を記録する
type blinkRecorder struct {
	rates []int
}

func (b *blinkRecorder) SetBlinkRate(hz int) {
	b.rates = append(b.rates, hz)
}
