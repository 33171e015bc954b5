package ltcout

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"ltc-node/timecode"
)

// DefaultSampleRate は出力のサンプルレート
const DefaultSampleRate beep.SampleRate = 48000

// DefaultAmplitude は出力レベル (フルスケールに対する比)
const DefaultAmplitude = 0.5

type pendingFrame struct {
	frame Frame
	fps   uint32
}

// Sender は現在のタイムコードをバイフェーズマーク変調した音声を生成する beep.Streamer。
// フレームの差し替え (TimeCodeChanged) はデコードハンドラから、
// Stream はスピーカーのゴルーチンから呼ばれる。
type Sender struct {
	sampleRate beep.SampleRate
	amplitude  float64

	next atomic.Pointer[pendingFrame]

	// Stream 専用
	cur     pendingFrame
	bit     int
	pos     float64
	level   float64
	newBit  bool
	midDone bool
}

// NewSender は Sender を作成する
func NewSender(sampleRate beep.SampleRate, amplitude float64) *Sender {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if amplitude <= 0 || amplitude > 1 {
		amplitude = DefaultAmplitude
	}
	return &Sender{
		sampleRate: sampleRate,
		amplitude:  amplitude,
		level:      1,
		newBit:     true,
	}
}

// SampleRate は出力のサンプルレート
func (s *Sender) SampleRate() beep.SampleRate {
	return s.sampleRate
}

// TimeCodeChanged は次のフレーム境界から tc を送出させる
func (s *Sender) TimeCodeChanged(tc timecode.TimeCode, _ timecode.Text) error {
	s.next.Store(&pendingFrame{frame: EncodeFrame(tc), fps: tc.Type.FPS()})
	return nil
}

// TypeChanged は何もしない。種別はフレームの長さとして TimeCodeChanged で反映される。
func (s *Sender) TypeChanged(timecode.TimeCode) error {
	return nil
}

func (s *Sender) loadNext() {
	if p := s.next.Swap(nil); p != nil {
		s.cur = *p
	}
}

// Stream は beep.Streamer の実装。タイムコード未受信の間は無音を返す。
func (s *Sender) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		if s.cur.fps == 0 {
			s.loadNext()
			if s.cur.fps == 0 {
				samples[i] = [2]float64{}
				continue
			}
		}

		samplesPerBit := float64(s.sampleRate) / float64(FrameBits*s.cur.fps)

		if s.newBit {
			// ビットの先頭では必ず反転する
			s.level = -s.level
			s.newBit = false
			s.midDone = false
		}
		if !s.midDone && s.pos >= samplesPerBit/2 {
			// 1 はビットの中央でもう一度反転する
			if s.cur.frame.Bit(s.bit) {
				s.level = -s.level
			}
			s.midDone = true
		}

		v := s.level * s.amplitude
		samples[i] = [2]float64{v, v}

		s.pos++
		if s.pos >= samplesPerBit {
			s.pos -= samplesPerBit
			s.newBit = true
			s.bit++
			if s.bit == FrameBits {
				s.bit = 0
				s.loadNext()
			}
		}
	}
	return len(samples), true
}

// Err は常に nil
func (s *Sender) Err() error {
	return nil
}

// Play はスピーカーを初期化して Sender を再生する
func Play(s *Sender) error {
	if err := speaker.Init(s.sampleRate, s.sampleRate.N(time.Second/20)); err != nil {
		return fmt.Errorf("initialize audio output: %w", err)
	}
	speaker.Play(s)
	slog.Info("LTC 出力を開始しました", "sample_rate", int(s.sampleRate))
	return nil
}

// Stop はスピーカーを止める
func Stop() {
	speaker.Clear()
}
