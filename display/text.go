// Package display はタイムコードの表示先（文字表示、7セグメント、LED）を扱う
package display

import (
	"fmt"
	"io"
	"sync"

	"ltc-node/timecode"
)

// LineWriter は行単位で書き換えられる表示器
type LineWriter interface {
	WriteLine(line int, s string) error
}

// Text は2行の文字表示。1行目にタイムコード、2行目に種別を出す。
type Text struct {
	w LineWriter
}

// NewText は w に表示する Text を作成する
func NewText(w LineWriter) *Text {
	return &Text{w: w}
}

func (t *Text) TimeCodeChanged(_ timecode.TimeCode, text timecode.Text) error {
	return t.w.WriteLine(1, text.String())
}

func (t *Text) TypeChanged(tc timecode.TimeCode) error {
	return t.w.WriteLine(2, fmt.Sprintf("%-*s", timecode.TypeLabelLength, tc.Type.String()))
}

// TerminalLines は端末 (例: /dev/tty1) に ANSI のカーソル移動で行を書く LineWriter
type TerminalLines struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalLines は w に書く TerminalLines を作成する
func NewTerminalLines(w io.Writer) *TerminalLines {
	return &TerminalLines{w: w}
}

// WriteLine は line 行目 (1始まり) を s で置き換える
func (t *TerminalLines) WriteLine(line int, s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "\x1b[%d;1H%s\x1b[K", line, s)
	return err
}
