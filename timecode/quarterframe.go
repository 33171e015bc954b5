package timecode

import (
	"sync/atomic"
	"time"
)

// QuarterFrameStatus は MIDI Time Code クォーターフレームのステータスバイト
const QuarterFrameStatus = 0xF1

// QuarterFrameMessage は piece 番号 (0-7) に対応する2バイトのメッセージを組み立てる
func QuarterFrameMessage(piece uint8, tc TimeCode) [2]byte {
	piece &= 0x07
	data := piece << 4

	switch piece {
	case 0:
		data |= tc.Frames & 0x0F
	case 1:
		data |= (tc.Frames & 0x10) >> 4
	case 2:
		data |= tc.Seconds & 0x0F
	case 3:
		data |= (tc.Seconds & 0x30) >> 4
	case 4:
		data |= tc.Minutes & 0x0F
	case 5:
		data |= (tc.Minutes & 0x30) >> 4
	case 6:
		data |= tc.Hours & 0x0F
	case 7:
		data |= (uint8(tc.Type)&0x03)<<1 | (tc.Hours&0x10)>>4
	}

	return [2]byte{QuarterFrameStatus, data}
}

// QuarterFrameInterval は種別に対するクォーターフレーム間隔 (1フレームの1/4)
func QuarterFrameInterval(limitMicros uint32) time.Duration {
	return time.Duration(limitMicros/4) * time.Microsecond
}

// QuarterFrameScheduler はフレームレートの4倍で発火するタイマーから
// クォーターフレームの送信タイミングを作る。
//
// 書き込み元はそれぞれ1つだけ:
//   - limitMicros, reset: デコードハンドラ (SetType)
//   - pending: タイマー (tick) が立て、ポーリングループ (Poll) が下ろす
//   - piece: ポーリングループ (Poll)
type QuarterFrameScheduler struct {
	timer       Timer
	limitMicros atomic.Uint32
	pending     Flag
	reset       atomic.Bool
	piece       uint8
}

// NewQuarterFrameScheduler は timer を使う QuarterFrameScheduler を作成する
func NewQuarterFrameScheduler(timer Timer) *QuarterFrameScheduler {
	return &QuarterFrameScheduler{
		timer:   timer,
		pending: NewFlag(),
	}
}

// Start はタイマーにハンドラを登録する。種別が確定するまでは発火しない。
func (q *QuarterFrameScheduler) Start() {
	q.timer.Start(QuarterFrameInterval(q.limitMicros.Load()), q.tick)
}

// Stop はタイマーを止める
func (q *QuarterFrameScheduler) Stop() {
	q.timer.Stop()
}

// SetType は種別変更時にデコードハンドラから呼ばれる。
// 間隔を更新してタイマーを再設定し、次の送信を piece 0 から始めさせる。
func (q *QuarterFrameScheduler) SetType(t Type) {
	limit := t.LimitMicros()
	q.limitMicros.Store(limit)
	q.reset.Store(true)
	q.timer.Reset(QuarterFrameInterval(limit))
}

// LimitMicros はキャッシュしている1フレームのマイクロ秒を返す
func (q *QuarterFrameScheduler) LimitMicros() uint32 {
	return q.limitMicros.Load()
}

// tick はタイマーのハンドラ。送信はせず、再設定とフラグ立てだけを行う。
func (q *QuarterFrameScheduler) tick() {
	q.timer.Reset(QuarterFrameInterval(q.limitMicros.Load()))
	q.pending.Raise()
}

// Poll はポーリングループから呼ばれる。処理待ちがあれば送信すべきメッセージを返し、
// piece を次へ進める。
func (q *QuarterFrameScheduler) Poll(tc TimeCode) ([2]byte, bool) {
	if !q.pending.Take() {
		return [2]byte{}, false
	}
	if q.reset.Swap(false) {
		q.piece = 0
	}
	msg := QuarterFrameMessage(q.piece, tc)
	q.piece = (q.piece + 1) & 0x07
	return msg, true
}

// Piece は次に送信する piece 番号を返す。ポーリングループからのみ呼ぶこと。
func (q *QuarterFrameScheduler) Piece() uint8 {
	if q.reset.Load() {
		return 0
	}
	return q.piece
}
