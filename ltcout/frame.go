// Package ltcout は SMPTE LTC をオーディオとして出力する
package ltcout

import (
	"math/bits"

	"ltc-node/timecode"
)

// FrameBits は LTC 1フレームのビット数
const FrameBits = 80

// SyncWord はフレーム末尾 (ビット 64-79) の同期パターン
const SyncWord = 0x3FFD

// Frame は LTC の1フレーム。ビット n は Frame[n/8] の (n%8) ビット目で、送出順と同じ LSB 先頭。
type Frame [FrameBits / 8]byte

// Bit はビット n の値を返す
func (f *Frame) Bit(n int) bool {
	return f[n/8]&(1<<(n%8)) != 0
}

func (f *Frame) set(n int, v bool) {
	if v {
		f[n/8] |= 1 << (n % 8)
	} else {
		f[n/8] &^= 1 << (n % 8)
	}
}

func (f *Frame) putBits(start, count int, v uint8) {
	for i := 0; i < count; i++ {
		f.set(start+i, v&(1<<i) != 0)
	}
}

func (f *Frame) ones() int {
	n := 0
	for _, b := range f {
		n += bits.OnesCount8(b)
	}
	return n
}

// EncodeFrame は tc を LTC のフレームに変換する。ユーザービットは 0。
func EncodeFrame(tc timecode.TimeCode) Frame {
	var f Frame

	f.putBits(0, 4, tc.Frames%10)
	f.putBits(8, 2, tc.Frames/10)
	f.set(10, tc.Type == timecode.TypeDF)
	f.putBits(16, 4, tc.Seconds%10)
	f.putBits(24, 3, tc.Seconds/10)
	f.putBits(32, 4, tc.Minutes%10)
	f.putBits(40, 3, tc.Minutes/10)
	f.putBits(48, 4, tc.Hours%10)
	f.putBits(56, 2, tc.Hours/10)

	// 同期ワードは MSB から送る
	for i := 0; i < 16; i++ {
		f.set(64+i, SyncWord&(1<<(15-i)) != 0)
	}

	// 極性補正ビットで1フレーム中の 0 の数を偶数にする (25fps はビット 59、それ以外は 27)
	polarity := 27
	if tc.Type == timecode.TypeEBU {
		polarity = 59
	}
	if f.ones()%2 != 0 {
		f.set(polarity, true)
	}
	return f
}

// Decode は EncodeFrame の逆変換。種別は DF フラグ以外には載っていないので typ で補う。
func (f *Frame) Decode(typ timecode.Type) timecode.TimeCode {
	get := func(start, count int) uint8 {
		var v uint8
		for i := 0; i < count; i++ {
			if f.Bit(start + i) {
				v |= 1 << i
			}
		}
		return v
	}
	if f.Bit(10) {
		typ = timecode.TypeDF
	}
	return timecode.TimeCode{
		Frames:  get(8, 2)*10 + get(0, 4),
		Seconds: get(24, 3)*10 + get(16, 4),
		Minutes: get(40, 3)*10 + get(32, 4),
		Hours:   get(56, 2)*10 + get(48, 4),
		Type:    typ,
	}
}
