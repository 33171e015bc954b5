package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ltc-node/artnet"
	"ltc-node/timecode"
)

// コマンドの種類を表す型
type CommandType int

const (
	CmdUnknown CommandType = iota
	CmdQuit
	CmdHelp
	CmdStatus
	CmdNodes
	CmdNode
	CmdEnable
	CmdDisable
	CmdPoll
	CmdDump
)

// ErrEmptyCommand は空行を表す
var ErrEmptyCommand = errors.New("empty command")

// コマンドを表す構造体
type Command struct {
	Type      CommandType
	NodeIndex int             // node コマンドのエントリ番号（1始まり）
	Output    timecode.Output // enable / disable の対象
	Done      chan struct{}   // コマンド実行完了を通知するチャネル
	Error     error           // コマンド実行中に発生したエラー
}

type commandDef struct {
	name    string
	typ     CommandType
	args    string
	summary string
}

var commandTable = []commandDef{
	{"status", CmdStatus, "", "現在のタイムコードと出力先の状態を表示する"},
	{"nodes", CmdNodes, "", "Art-Net ノードの一覧を表示する"},
	{"node", CmdNode, "<n>", "n 番目（1始まり）のノードの詳細を表示する"},
	{"enable", CmdEnable, "<output>", "出力先を有効にする"},
	{"disable", CmdDisable, "<output>", "出力先を無効にする"},
	{"poll", CmdPoll, "", "ArtPoll を今すぐ送信する"},
	{"dump", CmdDump, "", "ノード探索テーブルをダンプする"},
	{"help", CmdHelp, "", "使い方を表示する"},
	{"quit", CmdQuit, "", "終了する"},
}

func lookupCommand(name string) (commandDef, bool) {
	for _, def := range commandTable {
		if def.name == name {
			return def, true
		}
	}
	return commandDef{}, false
}

// ParseCommand は入力行を Command に変換する。空行は ErrEmptyCommand。
func ParseCommand(line string) (*Command, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}

	name := strings.ToLower(words[0])
	if name == "exit" {
		name = "quit"
	}
	def, ok := lookupCommand(name)
	if !ok {
		return nil, fmt.Errorf("不明なコマンド: %s", words[0])
	}

	wantArgs := 0
	if def.args != "" {
		wantArgs = 1
	}
	if len(words)-1 != wantArgs {
		if wantArgs == 0 {
			return nil, fmt.Errorf("%s は引数を取りません", def.name)
		}
		return nil, fmt.Errorf("使い方: %s %s", def.name, def.args)
	}

	cmd := &Command{Type: def.typ, Done: make(chan struct{})}
	switch def.typ {
	case CmdNode:
		n, err := strconv.Atoi(words[1])
		if err != nil || n < 1 || n > artnet.MaxNodes {
			return nil, fmt.Errorf("ノード番号は 1..%d で指定してください: %s", artnet.MaxNodes, words[1])
		}
		cmd.NodeIndex = n
	case CmdEnable, CmdDisable:
		o, err := timecode.ParseOutput(words[1])
		if err != nil {
			return nil, err
		}
		cmd.Output = o
	}
	return cmd, nil
}
