package timecode

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// Sink はタイムコードの出力先。呼び出しはデコードハンドラの文脈で行われるので、
// ブロックせずに戻ること。返したエラーはログに残るだけで、他の出力先には影響しない。
type Sink interface {
	// TimeCodeChanged は値が変化したときに呼ばれる
	TimeCodeChanged(tc TimeCode, text Text) error
	// TypeChanged は種別が変化したときに呼ばれる
	TypeChanged(tc TimeCode) error
}

// SignalLostSink は信号喪失時の代替表示（システム時刻など）に対応する出力先
type SignalLostSink interface {
	SignalLost() error
}

// SinkFuncs は必要なイベントだけを関数で渡すための Sink 実装
type SinkFuncs struct {
	OnTimeCode func(tc TimeCode, text Text) error
	OnType     func(tc TimeCode) error
}

func (s SinkFuncs) TimeCodeChanged(tc TimeCode, text Text) error {
	if s.OnTimeCode == nil {
		return nil
	}
	return s.OnTimeCode(tc, text)
}

func (s SinkFuncs) TypeChanged(tc TimeCode) error {
	if s.OnType == nil {
		return nil
	}
	return s.OnType(tc)
}

// SinkStats は出力先ごとの配信結果
type SinkStats struct {
	Output    Output
	Delivered uint64
	Failed    uint64
}

type eventKind int

const (
	eventTimeCode eventKind = iota
	eventType
	eventSignalLost
)

func (k eventKind) String() string {
	switch k {
	case eventTimeCode:
		return "timecode"
	case eventType:
		return "type"
	case eventSignalLost:
		return "signal_lost"
	}
	return "unknown"
}

// failureLogEvery 回に1回だけ連続失敗をログに出す
const failureLogEvery = 100

type fanoutEntry struct {
	output      Output
	sink        Sink
	lost        SignalLostSink
	delivered   atomic.Uint64
	failed      atomic.Uint64
	consecutive atomic.Uint64
}

// Fanout は新しいタイムコードを有効な出力先すべてに配る。
// Register はフレームの受信開始前に済ませること。以後リストは変更しない。
type Fanout struct {
	disabled *DisabledOutputs
	entries  []*fanoutEntry
}

// NewFanout は disabled のマスクに従って配信する Fanout を作成する
func NewFanout(disabled *DisabledOutputs) *Fanout {
	if disabled == nil {
		disabled = NewDisabledOutputs(0)
	}
	return &Fanout{disabled: disabled}
}

// Register は出力先を登録する。同じ Output に複数の Sink を登録してもよい。
func (f *Fanout) Register(output Output, sink Sink) {
	if sink == nil {
		panic(fmt.Sprintf("timecode: nil sink for output %s", output))
	}
	e := &fanoutEntry{output: output, sink: sink}
	if lost, ok := sink.(SignalLostSink); ok {
		e.lost = lost
	}
	f.entries = append(f.entries, e)

	// AllOutputs の順に並べる（同じ Output 内は登録順）
	slices.SortStableFunc(f.entries, func(a, b *fanoutEntry) int {
		return outputOrder(a.output) - outputOrder(b.output)
	})
}

func outputOrder(o Output) int {
	if i := slices.Index(AllOutputs, o); i >= 0 {
		return i
	}
	return len(AllOutputs)
}

// Disabled は出力先の無効化マスクを返す
func (f *Fanout) Disabled() *DisabledOutputs {
	return f.disabled
}

// Outputs は登録されている出力先の一覧を返す
func (f *Fanout) Outputs() []Output {
	outputs := make([]Output, 0, len(f.entries))
	for _, e := range f.entries {
		if !slices.Contains(outputs, e.output) {
			outputs = append(outputs, e.output)
		}
	}
	return outputs
}

// TimeCodeChanged は有効な出力先に値の変化を配る
func (f *Fanout) TimeCodeChanged(tc TimeCode, text Text) {
	for _, e := range f.entries {
		if f.disabled.IsDisabled(e.output) {
			continue
		}
		f.deliver(e, eventTimeCode, tc, text)
	}
}

// TypeChanged は有効な出力先に種別の変化を配る
func (f *Fanout) TypeChanged(tc TimeCode) {
	for _, e := range f.entries {
		if f.disabled.IsDisabled(e.output) {
			continue
		}
		f.deliver(e, eventType, tc, Text{})
	}
}

// SignalLost は代替表示に対応する有効な出力先に信号喪失を伝える
func (f *Fanout) SignalLost() {
	for _, e := range f.entries {
		if e.lost == nil || f.disabled.IsDisabled(e.output) {
			continue
		}
		f.deliver(e, eventSignalLost, TimeCode{}, Text{})
	}
}

// deliver は1つの出力先を呼び出す。エラーもパニックもここで止める。
func (f *Fanout) deliver(e *fanoutEntry, kind eventKind, tc TimeCode, text Text) {
	defer func() {
		if r := recover(); r != nil {
			f.failure(e, kind, fmt.Errorf("panic: %v", r))
		}
	}()

	var err error
	switch kind {
	case eventTimeCode:
		err = e.sink.TimeCodeChanged(tc, text)
	case eventType:
		err = e.sink.TypeChanged(tc)
	case eventSignalLost:
		err = e.lost.SignalLost()
	}
	if err != nil {
		f.failure(e, kind, err)
		return
	}
	e.delivered.Add(1)
	e.consecutive.Store(0)
}

func (f *Fanout) failure(e *fanoutEntry, kind eventKind, err error) {
	e.failed.Add(1)
	n := e.consecutive.Add(1)
	if n == 1 || n%failureLogEvery == 0 {
		slog.Warn("出力先への配信に失敗", "output", e.output, "event", kind, "consecutive", n, "err", err)
	}
}

// Stats は出力先ごとの配信数を返す
func (f *Fanout) Stats() []SinkStats {
	stats := make([]SinkStats, 0, len(f.entries))
	for _, e := range f.entries {
		stats = append(stats, SinkStats{
			Output:    e.output,
			Delivered: e.delivered.Load(),
			Failed:    e.failed.Load(),
		})
	}
	return stats
}
