package timecode

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Output はタイムコードの出力先を表すビット
type Output uint32

const (
	OutputDisplay Output = 1 << iota
	OutputMax7219
	OutputMidi
	OutputArtNet
	OutputLtc
	OutputNtp
	OutputLeds
	OutputMqtt
	OutputWebSocket
)

// AllOutputs は既知の出力先の一覧（ファンアウトの呼び出し順）
var AllOutputs = []Output{
	OutputLtc,
	OutputArtNet,
	OutputNtp,
	OutputMidi,
	OutputDisplay,
	OutputMax7219,
	OutputLeds,
	OutputMqtt,
	OutputWebSocket,
}

var outputNames = map[Output]string{
	OutputDisplay:   "display",
	OutputMax7219:   "max7219",
	OutputMidi:      "midi",
	OutputArtNet:    "artnet",
	OutputLtc:       "ltc",
	OutputNtp:       "ntp",
	OutputLeds:      "leds",
	OutputMqtt:      "mqtt",
	OutputWebSocket: "websocket",
}

func (o Output) String() string {
	if name, ok := outputNames[o]; ok {
		return name
	}
	return fmt.Sprintf("output(0x%x)", uint32(o))
}

// ParseOutput は出力名から Output を得る
func ParseOutput(name string) (Output, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for o, n := range outputNames {
		if n == name {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown output: %q", name)
}

// DisabledOutputs は無効化された出力先のマスク。
// デコード側とコンソール側から同時に参照されるため atomic で保持する。
type DisabledOutputs struct {
	mask atomic.Uint32
}

// NewDisabledOutputs は初期マスクを持つ DisabledOutputs を作成する
func NewDisabledOutputs(mask Output) *DisabledOutputs {
	d := &DisabledOutputs{}
	d.mask.Store(uint32(mask))
	return d
}

// IsDisabled は o が無効化されていれば true を返す
func (d *DisabledOutputs) IsDisabled(o Output) bool {
	return Output(d.mask.Load())&o != 0
}

// Disable は o を無効化する
func (d *DisabledOutputs) Disable(o Output) {
	for {
		old := d.mask.Load()
		if d.mask.CompareAndSwap(old, old|uint32(o)) {
			return
		}
	}
}

// Enable は o を有効化する
func (d *DisabledOutputs) Enable(o Output) {
	for {
		old := d.mask.Load()
		if d.mask.CompareAndSwap(old, old&^uint32(o)) {
			return
		}
	}
}

// Mask は現在のマスクを返す
func (d *DisabledOutputs) Mask() Output {
	return Output(d.mask.Load())
}

// Names は無効化されている出力名の一覧を返す
func (d *DisabledOutputs) Names() []string {
	mask := d.Mask()
	var names []string
	for _, o := range AllOutputs {
		if mask&o != 0 {
			names = append(names, o.String())
		}
	}
	return names
}
