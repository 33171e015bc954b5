package timecode

import (
	"sync"
	"time"
)

// Timer はハードウェアタイマーの代わりになる抽象。
// fn はタイマー自身のゴルーチンから呼ばれるので、ブロックしてはならない。
type Timer interface {
	// Start はハンドラを登録する。interval が 0 の場合は登録だけ行い、Reset まで発火しない。
	Start(interval time.Duration, fn func())
	// Reset は次の発火までの間隔を設定し直す
	Reset(interval time.Duration)
	// Stop はタイマーを止める。以後 Reset しても発火しない。
	Stop()
}

// PeriodicTimer は一定間隔で発火し続けるタイマー（1Hzのレート計測用）
type PeriodicTimer struct {
	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

// NewPeriodicTimer は PeriodicTimer を作成する
func NewPeriodicTimer() *PeriodicTimer {
	return &PeriodicTimer{}
}

func (p *PeriodicTimer) Start(interval time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil || interval <= 0 {
		return
	}
	p.ticker = time.NewTicker(interval)
	p.done = make(chan struct{})

	go func(ticker *time.Ticker, done <-chan struct{}) {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}(p.ticker, p.done)
}

func (p *PeriodicTimer) Reset(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil && interval > 0 {
		p.ticker.Reset(interval)
	}
}

func (p *PeriodicTimer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.done)
	p.ticker = nil
}

// OneShotTimer は1回だけ発火するタイマー。ハンドラ内で Reset して再始動させる。
type OneShotTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	fn      func()
	stopped bool
}

// NewOneShotTimer は OneShotTimer を作成する
func NewOneShotTimer() *OneShotTimer {
	return &OneShotTimer{}
}

func (o *OneShotTimer) Start(interval time.Duration, fn func()) {
	o.mu.Lock()
	o.fn = fn
	o.stopped = false
	o.mu.Unlock()

	if interval > 0 {
		o.Reset(interval)
	}
}

func (o *OneShotTimer) Reset(interval time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped || o.fn == nil || interval <= 0 {
		return
	}
	if o.timer == nil {
		o.timer = time.AfterFunc(interval, o.fire)
		return
	}
	o.timer.Reset(interval)
}

func (o *OneShotTimer) fire() {
	o.mu.Lock()
	fn := o.fn
	stopped := o.stopped
	o.mu.Unlock()

	if !stopped && fn != nil {
		fn()
	}
}

func (o *OneShotTimer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopped = true
	o.fn = nil
	if o.timer != nil {
		o.timer.Stop()
	}
}
