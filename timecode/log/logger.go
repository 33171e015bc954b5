package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger はログファイルへの書き込みを行う io.Writer。
// slog のハンドラの出力先として使い、Rotate で同じパスを開き直す。
type Logger struct {
	logMutex sync.Mutex
	logFile  *os.File
	path     string
}

// NewLogger は filename を追記モードで開く
func NewLogger(filename string) (*Logger, error) {
	logFile, err := openLogFile(filename)
	if err != nil {
		return nil, err
	}
	return &Logger{logFile: logFile, path: filename}, nil
}

func openLogFile(filename string) (*os.File, error) {
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ログファイルを開けませんでした: %w", err)
	}
	return logFile, nil
}

// Write はログファイルに書き込む。Close 後は何もしない。
func (l *Logger) Write(p []byte) (int, error) {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return len(p), nil
	}
	return l.logFile.Write(p)
}

// Path はログファイルのパスを返す
func (l *Logger) Path() string {
	return l.path
}

// Close はログファイルを閉じる
func (l *Logger) Close() error {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// Rotate closes and reopens the log file
func (l *Logger) Rotate() error {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return nil
	}
	_ = l.logFile.Close()

	logFile, err := openLogFile(l.path)
	if err != nil {
		l.logFile = nil
		return fmt.Errorf("ログファイルを再オープンできませんでした: %w", err)
	}
	l.logFile = logFile
	return nil
}

// Options は NewHandler の設定
type Options struct {
	Debug bool
	// Console が nil でなければ、ログファイルと同じ内容をここにも書く
	Console io.Writer
}

// NewHandler は w に出力する slog.TextHandler を作る
func NewHandler(w io.Writer, opts Options) slog.Handler {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	if opts.Console != nil {
		w = io.MultiWriter(w, opts.Console)
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
