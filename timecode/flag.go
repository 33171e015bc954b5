package timecode

// Flag は割り込み側（タイマー）からフォアグラウンドのポーリングループへ
// 「処理待ちあり」を1ビットで伝える単一生産者・単一消費者のフラグ。
// 容量1のチャネルで実装しているので、送受信がそのままメモリバリアになる。
type Flag struct {
	ch chan struct{}
}

// NewFlag は下がった状態のフラグを作成する
func NewFlag() Flag {
	return Flag{ch: make(chan struct{}, 1)}
}

// Raise はフラグを立てる。既に立っていれば何もしない（ブロックしない）。
func (f Flag) Raise() {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

// Take はフラグが立っていれば下ろして true を返す
func (f Flag) Take() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// C はフラグが立つのを待つためのチャネルを返す。受信するとフラグは下りる。
func (f Flag) C() <-chan struct{} {
	return f.ch
}
