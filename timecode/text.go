package timecode

// TextLength はタイムコード文字列 "HH:MM.SS:FF" の長さ
const TextLength = 11

// Text は固定長のタイムコード表示文字列。フレーム毎の割り当てを避けるため配列で保持する。
type Text [TextLength]byte

// newText は区切り文字だけを埋めた Text を返す
func newText() Text {
	var t Text
	for i := range t {
		t[i] = ' '
	}
	t[2] = ':'
	t[5] = '.'
	t[8] = ':'
	return t
}

// FormatText は tc を "HH:MM.SS:FF" 形式に整形する
func FormatText(tc TimeCode) Text {
	t := newText()
	t.set(tc)
	return t
}

// set は区切り文字を残したまま数字部分だけを書き換える
func (t *Text) set(tc TimeCode) {
	putTwoDigits(t[0:2], tc.Hours)
	putTwoDigits(t[3:5], tc.Minutes)
	putTwoDigits(t[6:8], tc.Seconds)
	putTwoDigits(t[9:11], tc.Frames)
}

func (t Text) String() string {
	return string(t[:])
}

// putTwoDigits は 0-99 の値を10進2桁で書き込む。
// 範囲外の値は下2桁に切り詰める（桁あふれで記号を出さない）。
func putTwoDigits(dst []byte, v uint8) {
	v %= 100
	dst[0] = '0' + v/10
	dst[1] = '0' + v%10
}
