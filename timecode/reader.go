package timecode

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// RateSampleInterval はレート計測タイマーの周期
	RateSampleInterval = time.Second
	// LockedPollInterval は信号ありのときのポーリング周期
	LockedPollInterval = time.Millisecond
	// UnlockedPollInterval は信号なしのときのポーリング周期
	UnlockedPollInterval = 100 * time.Millisecond

	// LockedBlinkRate と UnlockedBlinkRate は状態表示LEDの点滅周波数 (Hz)
	LockedBlinkRate   = 3
	UnlockedBlinkRate = 1
)

// Mode はポーリングループの動作状態
type Mode int32

const (
	ModeUnlocked Mode = iota
	ModeLocked
)

func (m Mode) String() string {
	if m == ModeLocked {
		return "locked"
	}
	return "unlocked"
}

// QuarterFrameSender はクォーターフレームの生バイト列を送る先（MIDI出力）
type QuarterFrameSender interface {
	SendRaw(data []byte) error
}

// Indicator は動作状態を点滅周期で表示する（状態表示LED）
type Indicator interface {
	SetBlinkRate(hz int)
}

// ReaderOptions は Reader の依存関係
type ReaderOptions struct {
	Fanout            *Fanout
	QuarterFrames     QuarterFrameSender // nil の場合クォーターフレームは送らない
	Indicator         Indicator          // 省略可
	RateTimer         Timer              // 省略時は NewPeriodicTimer
	QuarterFrameTimer Timer              // 省略時は NewOneShotTimer
}

// Reader はデコード済みタイムコードを受け取り、変化を出力先に配る。
//
// ゴルーチンごとの所有関係:
//   - デコード元: Handler。previous, previousType, text を単独で書き換える
//   - 1Hz タイマー: RateMonitor.Sample
//   - クォーターフレームタイマー: QuarterFrameScheduler.tick
//   - ポーリングループ: Poll / Run。piece と mode を単独で書き換える
//
// ポーリングループからの「前回値の破棄」要求は resetPrevious フラグで伝え、
// previous の書き換え自体は Handler だけが行う。
type Reader struct {
	fanout    *Fanout
	qfSender  QuarterFrameSender
	indicator Indicator

	rate      *RateMonitor
	rateTimer Timer
	qf        *QuarterFrameScheduler

	// Handler 専用
	previous     uint64
	previousType Type
	text         Text

	current       atomic.Uint64
	resetPrevious atomic.Bool

	// ポーリングループ専用
	mode      Mode
	modeKnown bool

	sharedMode atomic.Int32
	qfRunning  atomic.Bool
}

// NewReader は Reader を作成する
func NewReader(opts ReaderOptions) *Reader {
	if opts.Fanout == nil {
		opts.Fanout = NewFanout(nil)
	}
	if opts.RateTimer == nil {
		opts.RateTimer = NewPeriodicTimer()
	}
	if opts.QuarterFrameTimer == nil {
		opts.QuarterFrameTimer = NewOneShotTimer()
	}

	r := &Reader{
		fanout:       opts.Fanout,
		qfSender:     opts.QuarterFrames,
		indicator:    opts.Indicator,
		rate:         NewRateMonitor(),
		rateTimer:    opts.RateTimer,
		qf:           NewQuarterFrameScheduler(opts.QuarterFrameTimer),
		previous:     noValue,
		previousType: TypeInvalid,
		text:         newText(),
	}
	r.current.Store(noValue)
	return r
}

// Start はレート計測とクォーターフレームのタイマーを開始する。
// クォーターフレームのタイマーは送信先があれば登録し、送信するかどうかは
// Poll のたびに MIDI 出力の無効化マスクを見て決める。
func (r *Reader) Start() {
	r.rateTimer.Start(RateSampleInterval, r.sampleRate)

	if r.qfSender != nil {
		r.qf.Start()
		r.qfRunning.Store(true)
	}

	if r.indicator != nil {
		r.indicator.SetBlinkRate(UnlockedBlinkRate)
	}
	slog.Info("Timecode reader started", "quarter_frames", r.qfRunning.Load())
}

// Stop はタイマーを止める。実行中の出力先の呼び出しは中断しない。
func (r *Reader) Stop() {
	r.rateTimer.Stop()
	if r.qfRunning.Swap(false) {
		r.qf.Stop()
	}
	slog.Info("Timecode reader stopped")
}

func (r *Reader) sampleRate() {
	r.rate.Sample()
}

// SampleRate は1Hzタイマーの処理を直接実行する（テストや外部タイマー用）
func (r *Reader) SampleRate() uint32 {
	return r.rate.Sample()
}

// Handler は新しいタイムコードがデコードされるたびに同期的に呼ばれる。
// 未知の種別は呼び出し側の契約違反なので panic する。
func (r *Reader) Handler(tc TimeCode) {
	if !tc.Type.Valid() {
		panic(fmt.Sprintf("timecode: unknown timecode type %d", tc.Type))
	}

	r.rate.Ingest()

	packed := tc.pack()
	r.current.Store(packed)

	if r.resetPrevious.Swap(false) {
		r.previous = noValue
	}

	if packed != r.previous {
		r.previous = packed
		r.text.set(tc)
		r.fanout.TimeCodeChanged(tc, r.text)
	}

	if tc.Type != r.previousType {
		r.previousType = tc.Type
		r.qf.SetType(tc.Type)
		r.fanout.TypeChanged(tc)
		slog.Info("Timecode type changed", "type", tc.Type, "limit_us", tc.Type.LimitMicros())
	}
}

// Poll はポーリングループの1回分の処理を行い、その時点の動作状態を返す
func (r *Reader) Poll() Mode {
	ups := r.rate.UpdatesPerSecond()

	if !Locked(ups) {
		r.resetPrevious.Store(true)
		r.fanout.SignalLost()
		r.setMode(ModeUnlocked, ups)
		return ModeUnlocked
	}

	tc := unpack(r.current.Load())
	if msg, ok := r.qf.Poll(tc); ok && r.qfSender != nil && !r.fanout.Disabled().IsDisabled(OutputMidi) {
		if err := r.qfSender.SendRaw(msg[:]); err != nil {
			slog.Debug("クォーターフレームの送信に失敗", "err", err)
		}
	}
	r.setMode(ModeLocked, ups)
	return ModeLocked
}

func (r *Reader) setMode(mode Mode, ups uint32) {
	if r.modeKnown && r.mode == mode {
		return
	}
	r.mode = mode
	r.modeKnown = true
	r.sharedMode.Store(int32(mode))

	if mode == ModeLocked {
		slog.Info("Timecode signal locked", "updates_per_second", ups)
	} else {
		slog.Info("Timecode signal lost", "updates_per_second", ups)
	}

	if r.indicator != nil {
		if mode == ModeLocked {
			r.indicator.SetBlinkRate(LockedBlinkRate)
		} else {
			r.indicator.SetBlinkRate(UnlockedBlinkRate)
		}
	}
}

// PollInterval は動作状態に応じたポーリング周期を返す
func PollInterval(mode Mode) time.Duration {
	if mode == ModeLocked {
		return LockedPollInterval
	}
	return UnlockedPollInterval
}

// Run はコンテキストがキャンセルされるまでポーリングループを回す
func (r *Reader) Run(ctx context.Context) error {
	interval := UnlockedPollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if next := PollInterval(r.Poll()); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// Current は最後に受け取ったタイムコードを返す。まだ受け取っていなければ false。
func (r *Reader) Current() (TimeCode, bool) {
	v := r.current.Load()
	if v == noValue {
		return TimeCode{}, false
	}
	return unpack(v), true
}

// Status は Reader の状態のスナップショット
type Status struct {
	TimeCode         TimeCode
	HasTimeCode      bool
	Text             string
	Mode             Mode
	UpdatesPerSecond uint32
	LimitMicros      uint32
	Disabled         []string
	Sinks            []SinkStats
}

// Status は現在の状態を返す。どのゴルーチンから呼んでもよい。
func (r *Reader) Status() Status {
	tc, ok := r.Current()
	s := Status{
		TimeCode:         tc,
		HasTimeCode:      ok,
		Mode:             Mode(r.sharedMode.Load()),
		UpdatesPerSecond: r.rate.UpdatesPerSecond(),
		LimitMicros:      r.qf.LimitMicros(),
		Disabled:         r.fanout.Disabled().Names(),
		Sinks:            r.fanout.Stats(),
	}
	if ok {
		s.Text = FormatText(tc).String()
	}
	return s
}

// Fanout は出力先の一覧を返す
func (r *Reader) Fanout() *Fanout {
	return r.fanout
}
