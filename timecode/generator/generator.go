// Package generator は外部信号の代わりにタイムコードを内部で生成する
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ltc-node/timecode"
)

var (
	ErrInvalidType  = errors.New("generator: invalid timecode type")
	ErrInvalidRange = errors.New("generator: invalid start/stop range")
)

// Options は Generator の設定
type Options struct {
	Type  timecode.Type
	Start timecode.TimeCode // Type は無視される
	Stop  timecode.TimeCode // Type は無視される
	Loop  bool              // false の場合 Stop に達したら終了する
}

// Generator は Start から Stop までフレームレートで数え上げる
type Generator struct {
	typ     timecode.Type
	start   timecode.TimeCode
	stop    timecode.TimeCode
	loop    bool
	current timecode.TimeCode
	started bool
}

// NewGenerator は Options を検証して Generator を作成する
func NewGenerator(opts Options) (*Generator, error) {
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, opts.Type)
	}
	opts.Start.Type = opts.Type
	opts.Stop.Type = opts.Type

	if !opts.Start.Valid() {
		return nil, fmt.Errorf("%w: start %s out of range", ErrInvalidRange, opts.Start)
	}
	if !opts.Stop.Valid() {
		return nil, fmt.Errorf("%w: stop %s out of range", ErrInvalidRange, opts.Stop)
	}
	opts.Start = skipDropped(opts.Start)
	if FrameCount(opts.Stop) < FrameCount(opts.Start) {
		return nil, fmt.Errorf("%w: stop %s is before start %s", ErrInvalidRange, opts.Stop, opts.Start)
	}

	return &Generator{
		typ:   opts.Type,
		start: opts.Start,
		stop:  opts.Stop,
		loop:  opts.Loop,
	}, nil
}

// skipDropped は DF でドロップされるフレーム番号を、その分で最初に存在するフレームに進める
func skipDropped(tc timecode.TimeCode) timecode.TimeCode {
	if tc.Type == timecode.TypeDF && tc.Minutes%10 != 0 && tc.Seconds == 0 && tc.Frames < 2 {
		tc.Frames = 2
	}
	return tc
}

// FrameCount は 00:00:00:00 からの通算フレーム数（ドロップは考慮しない）
func FrameCount(tc timecode.TimeCode) uint32 {
	fps := tc.Type.FPS()
	return ((uint32(tc.Hours)*60+uint32(tc.Minutes))*60+uint32(tc.Seconds))*fps + uint32(tc.Frames)
}

// Next は tc の1フレーム後を返す。24時で 0 時に戻る。
// DF は10の倍数以外の分の先頭でフレーム 0 と 1 を飛ばす。
func Next(tc timecode.TimeCode) timecode.TimeCode {
	fps := uint8(tc.Type.FPS())

	tc.Frames++
	if tc.Frames < fps {
		return tc
	}
	tc.Frames = 0
	tc.Seconds++
	if tc.Seconds < 60 {
		return tc
	}
	tc.Seconds = 0
	tc.Minutes++
	if tc.Minutes >= 60 {
		tc.Minutes = 0
		tc.Hours++
		if tc.Hours >= 24 {
			tc.Hours = 0
		}
	}
	if tc.Type == timecode.TypeDF && tc.Minutes%10 != 0 {
		tc.Frames = 2
	}
	return tc
}

// Step は次に出力するタイムコードを返す。Loop なしで Stop を過ぎたら false。
// DF で Stop がドロップされるフレームの場合は、その直前のフレームで止まる。
func (g *Generator) Step() (timecode.TimeCode, bool) {
	if !g.started {
		g.started = true
		g.current = g.start
		return g.current, true
	}

	next := Next(g.current)
	if g.current == g.stop || FrameCount(next) > FrameCount(g.stop) {
		if !g.loop {
			return g.current, false
		}
		next = g.start
	}
	g.current = next
	return g.current, true
}

// Interval は1フレームの長さ
func (g *Generator) Interval() time.Duration {
	return time.Duration(g.typ.LimitMicros()) * time.Microsecond
}

// Run はフレーム周期で handler を呼び続ける。
// コンテキストのキャンセルか、Loop なしで Stop に達したときに戻る。
func (g *Generator) Run(ctx context.Context, handler func(timecode.TimeCode)) error {
	ticker := time.NewTicker(g.Interval())
	defer ticker.Stop()

	slog.Info("Internal timecode generator started", "type", g.typ, "start", g.start, "stop", g.stop, "loop", g.loop)

	for {
		tc, ok := g.Step()
		if !ok {
			slog.Info("Internal timecode generator reached stop", "stop", g.stop)
			return nil
		}
		handler(tc)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
