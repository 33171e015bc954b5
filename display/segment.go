package display

import (
	"fmt"
	"io"
	"sync"
	"time"

	"ltc-node/timecode"
)

// Digits は7セグメント8桁分のパターン。Digits[0] が左端。
// ビット7 が小数点、ビット6-0 が A-G。
type Digits [8]byte

const segmentDP = 0x80

var segmentPatterns = [10]byte{0x7E, 0x30, 0x6D, 0x79, 0x33, 0x5B, 0x5F, 0x70, 0x7F, 0x7B}

// SegmentDigit は 0-9 の数字の7セグメントパターンを返す
func SegmentDigit(d byte) byte {
	if d > 9 {
		return 0
	}
	return segmentPatterns[d]
}

// RenderDigits は "HH:MM.SS:FF" 形式の文字列を HHMMSSFF の8桁にし、
// 区切りの位置に小数点を付ける
func RenderDigits(text string) Digits {
	var d Digits
	i := 0
	for _, c := range []byte(text) {
		switch {
		case c >= '0' && c <= '9':
			if i < len(d) {
				d[i] = SegmentDigit(c - '0')
				i++
			}
		case i > 0 && i <= len(d):
			d[i-1] |= segmentDP
		}
	}
	return d
}

// SegmentWriter は8桁分のパターンを書き込む表示器
type SegmentWriter interface {
	WriteDigits(d Digits) error
}

// Segment は7セグメント表示。信号が途切れたときにシステム時刻を出すこともできる。
type Segment struct {
	w           SegmentWriter
	showSysTime bool
	now         func() time.Time
}

// NewSegment は Segment を作成する
func NewSegment(w SegmentWriter, showSysTime bool) *Segment {
	return &Segment{w: w, showSysTime: showSysTime, now: time.Now}
}

func (s *Segment) TimeCodeChanged(_ timecode.TimeCode, text timecode.Text) error {
	return s.w.WriteDigits(RenderDigits(text.String()))
}

func (s *Segment) TypeChanged(timecode.TimeCode) error {
	return nil
}

// SignalLost は show_systime が有効ならシステム時刻を HH.MM.SS で表示する
func (s *Segment) SignalLost() error {
	if !s.showSysTime {
		return nil
	}
	t := s.now()
	hms := RenderDigits(fmt.Sprintf("%02d.%02d.%02d", t.Hour(), t.Minute(), t.Second()))
	// 6桁を右に寄せ、左端2桁は消灯
	var d Digits
	copy(d[2:], hms[:6])
	return s.w.WriteDigits(d)
}

// MAX7219 のレジスタ
const (
	max7219Digit0      = 0x01
	max7219DecodeMode  = 0x09
	max7219Intensity   = 0x0A
	max7219ScanLimit   = 0x0B
	max7219Shutdown    = 0x0C
	max7219DisplayTest = 0x0F
)

// MAX7219 は SPI デバイス (例: /dev/spidev0.0) に MAX7219 のレジスタ書き込みを送る SegmentWriter
type MAX7219 struct {
	mu sync.Mutex
	w  io.Writer
}

// NewMAX7219 は表示器を初期化して MAX7219 を返す。intensity は 0-15。
func NewMAX7219(w io.Writer, intensity uint8) (*MAX7219, error) {
	m := &MAX7219{w: w}
	if intensity > 0x0F {
		intensity = 0x0F
	}
	init := [][2]byte{
		{max7219DisplayTest, 0},
		{max7219DecodeMode, 0},
		{max7219ScanLimit, 7},
		{max7219Intensity, intensity},
		{max7219Shutdown, 1},
	}
	for _, r := range init {
		if err := m.write(r[0], r[1]); err != nil {
			return nil, fmt.Errorf("initialize MAX7219: %w", err)
		}
	}
	return m, nil
}

func (m *MAX7219) write(reg, value byte) error {
	_, err := m.w.Write([]byte{reg, value})
	return err
}

// WriteDigits は左端を桁8、右端を桁1として書き込む
func (m *MAX7219) WriteDigits(d Digits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range d {
		if err := m.write(max7219Digit0+byte(len(d)-1-i), v); err != nil {
			return err
		}
	}
	return nil
}
