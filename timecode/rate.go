package timecode

import "sync/atomic"

const (
	// MinLockedUpdates と MaxLockedUpdates の範囲内なら信号ありとみなす
	MinLockedUpdates = 25
	MaxLockedUpdates = 1000
)

// RateMonitor は1秒あたりの取り込みフレーム数を計測する。
//
// 書き込み元はそれぞれ1つだけ:
//   - updates: デコードハンドラ (Ingest)
//   - previous, perSecond: 1Hz タイマー (Sample)
type RateMonitor struct {
	updates   atomic.Uint32
	previous  uint32
	perSecond atomic.Uint32
}

// NewRateMonitor は RateMonitor を作成する
func NewRateMonitor() *RateMonitor {
	return &RateMonitor{}
}

// Ingest は取り込みカウンタを1つ進める
func (m *RateMonitor) Ingest() {
	m.updates.Add(1)
}

// Sample は1秒毎に呼ばれ、前回からの差分を updates-per-second として記録する。
// カウンタは折り返してもよい（1区間に1回までなら符号なし減算で正しい差が出る）。
func (m *RateMonitor) Sample() uint32 {
	now := m.updates.Load()
	ups := now - m.previous
	m.previous = now
	m.perSecond.Store(ups)
	return ups
}

// UpdatesPerSecond は直近の計測値を返す
func (m *RateMonitor) UpdatesPerSecond() uint32 {
	return m.perSecond.Load()
}

// Updates は取り込みカウンタの現在値を返す
func (m *RateMonitor) Updates() uint32 {
	return m.updates.Load()
}

// Locked は ups が信号ありと判断できる範囲かを返す
func Locked(ups uint32) bool {
	return ups >= MinLockedUpdates && ups <= MaxLockedUpdates
}
