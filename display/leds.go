package display

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ltc-node/timecode"
)

// LedDevice は名前で指定した LED を点灯・消灯する
type LedDevice interface {
	Set(name string, on bool) error
}

// SysfsLeds は /sys/class/leds/<name>/brightness を書き換える LedDevice
type SysfsLeds struct {
	Root string // 省略時は /sys/class/leds
}

func (s SysfsLeds) Set(name string, on bool) error {
	root := s.Root
	if root == "" {
		root = "/sys/class/leds"
	}
	value := []byte("0")
	if on {
		value = []byte("1")
	}
	path := filepath.Join(root, name, "brightness")
	if err := os.WriteFile(path, value, 0o644); err != nil {
		return fmt.Errorf("set led %s: %w", name, err)
	}
	return nil
}

// LedNames は使う LED の名前
type LedNames struct {
	Status string
	// Types は種別ごとの表示 LED（Film, EBU, DF, SMPTE の順）。空文字は LED なし
	Types [4]string
}

// Leds は種別表示 LED と点滅する状態表示 LED
type Leds struct {
	dev   LedDevice
	names LedNames

	mu   sync.Mutex
	rate int
	kick chan struct{}
}

// NewLeds は Leds を作成する
func NewLeds(dev LedDevice, names LedNames) *Leds {
	return &Leds{dev: dev, names: names, rate: 1, kick: make(chan struct{}, 1)}
}

func (l *Leds) TimeCodeChanged(timecode.TimeCode, timecode.Text) error {
	return nil
}

// TypeChanged は現在の種別の LED だけを点ける
func (l *Leds) TypeChanged(tc timecode.TimeCode) error {
	var firstErr error
	for i, name := range l.names.Types {
		if name == "" {
			continue
		}
		if err := l.dev.Set(name, timecode.Type(i) == tc.Type); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetBlinkRate は状態表示 LED の点滅周波数を変える
func (l *Leds) SetBlinkRate(hz int) {
	l.mu.Lock()
	l.rate = hz
	l.mu.Unlock()
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// BlinkRate は現在の点滅周波数を返す
func (l *Leds) BlinkRate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

func blinkHalfPeriod(hz int) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(2*hz)
}

// Run は状態表示 LED を点滅させ続ける
func (l *Leds) Run(ctx context.Context) error {
	if l.names.Status == "" {
		return nil
	}
	on := false
	timer := time.NewTimer(blinkHalfPeriod(l.BlinkRate()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = l.dev.Set(l.names.Status, false)
			return nil
		case <-l.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			on = !on
			if err := l.dev.Set(l.names.Status, on); err != nil {
				slog.Debug("状態表示 LED を設定できません", "err", err)
			}
		}
		if d := blinkHalfPeriod(l.BlinkRate()); d > 0 {
			timer.Reset(d)
		}
	}
}
