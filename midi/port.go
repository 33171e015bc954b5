package midi

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// PortWriter は MIDI ポート (drivers.Out) への io.WriteCloser
type PortWriter struct {
	out    drivers.Out
	closer func() error
}

// NewPortWriter は開いている out を包む
func NewPortWriter(out drivers.Out) *PortWriter {
	return &PortWriter{out: out, closer: out.Close}
}

// OpenPort は rtmidi ドライバで名前に name を含む出力ポートを開く。
// name が空なら最初のポートを使う。
func OpenPort(name string) (*PortWriter, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmidi driver: %w", err)
	}

	outs, err := drv.Outs()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("list MIDI outputs: %w", err)
	}

	out, err := findPort(outs, name)
	if err != nil {
		drv.Close()
		return nil, err
	}
	if err := out.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open MIDI output %q: %w", out.String(), err)
	}

	return &PortWriter{
		out: out,
		closer: func() error {
			err := out.Close()
			drv.Close()
			return err
		},
	}, nil
}

func findPort(outs []drivers.Out, name string) (drivers.Out, error) {
	if len(outs) == 0 {
		return nil, fmt.Errorf("no MIDI output ports")
	}
	if name == "" {
		return outs[0], nil
	}
	want := strings.ToLower(name)
	var names []string
	for _, out := range outs {
		if strings.Contains(strings.ToLower(out.String()), want) {
			return out, nil
		}
		names = append(names, out.String())
	}
	return nil, fmt.Errorf("MIDI output %q not found (available: %s)", name, strings.Join(names, ", "))
}

// Write は p を1メッセージとして送る
func (w *PortWriter) Write(p []byte) (int, error) {
	if err := w.out.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close はポートを閉じる
func (w *PortWriter) Close() error {
	return w.closer()
}

// String はポート名を返す
func (w *PortWriter) String() string {
	return w.out.String()
}
