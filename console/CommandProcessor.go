package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ltc-node/artnet"
	"ltc-node/timecode"
)

// ErrNoArtNet は Art-Net が無効なときに返す
var ErrNoArtNet = errors.New("art-net is not enabled")

// StatusSource は現在の状態を返すもの（*timecode.Reader が満たす）
type StatusSource interface {
	Status() timecode.Status
}

// NodeTable はノード探索テーブル（*artnet.PollTable が満たす）
type NodeTable interface {
	Entries() []artnet.NodeEntry
	Entry(index int) (artnet.NodeEntry, bool)
	Dump(w io.Writer) error
}

// Poller は ArtPoll の即時送信を行うもの（*artnet.Controller が満たす）
type Poller interface {
	Poll() error
}

// Target はコマンドの操作対象
type Target struct {
	Status   StatusSource
	Disabled *timecode.DisabledOutputs
	Nodes    NodeTable // nil 可
	Poller   Poller    // nil 可
}

// CommandProcessor は、コマンド処理を担当する構造体
type CommandProcessor struct {
	target  Target
	out     io.Writer
	cmdChan chan *Command
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewCommandProcessor は、CommandProcessor の新しいインスタンスを作成する
func NewCommandProcessor(ctx context.Context, target Target, out io.Writer) *CommandProcessor {
	processorCtx, cancel := context.WithCancel(ctx)
	return &CommandProcessor{
		target:  target,
		out:     out,
		cmdChan: make(chan *Command),
		done:    make(chan struct{}),
		ctx:     processorCtx,
		cancel:  cancel,
	}
}

// Start は、コマンド処理を開始する
func (p *CommandProcessor) Start() {
	go p.processCommands()
}

// Stop は、コマンド処理を停止する
func (p *CommandProcessor) Stop() {
	p.cancel()
	<-p.done
}

// SendCommand は、コマンドを送信し、結果のエラーを返す
func (p *CommandProcessor) SendCommand(cmd *Command) error {
	select {
	case p.cmdChan <- cmd:
	case <-p.done:
		return context.Canceled
	}
	<-cmd.Done
	return cmd.Error
}

// processCommands は、コマンドを処理するgoroutine
func (p *CommandProcessor) processCommands() {
	defer close(p.done)

	for {
		select {
		case <-p.ctx.Done():
			return
		case cmd := <-p.cmdChan:
			cmd.Error = p.execute(cmd)
			close(cmd.Done)
			if cmd.Type == CmdQuit {
				return
			}
		}
	}
}

func (p *CommandProcessor) execute(cmd *Command) error {
	switch cmd.Type {
	case CmdQuit:
		return nil
	case CmdHelp:
		PrintUsage(p.out)
		return nil
	case CmdStatus:
		p.printStatus()
		return nil
	case CmdNodes:
		return p.printNodes()
	case CmdNode:
		return p.printNode(cmd.NodeIndex)
	case CmdEnable:
		p.target.Disabled.Enable(cmd.Output)
		fmt.Fprintf(p.out, "%s を有効にしました\n", cmd.Output)
		return nil
	case CmdDisable:
		p.target.Disabled.Disable(cmd.Output)
		fmt.Fprintf(p.out, "%s を無効にしました\n", cmd.Output)
		return nil
	case CmdPoll:
		if p.target.Poller == nil {
			return ErrNoArtNet
		}
		return p.target.Poller.Poll()
	case CmdDump:
		if p.target.Nodes == nil {
			return ErrNoArtNet
		}
		return p.target.Nodes.Dump(p.out)
	}
	return fmt.Errorf("unknown command type: %d", cmd.Type)
}

func (p *CommandProcessor) printStatus() {
	s := p.target.Status.Status()

	if s.HasTimeCode {
		fmt.Fprintf(p.out, "timecode: %s (%s)\n", s.Text, s.TimeCode.Type)
	} else {
		fmt.Fprintln(p.out, "timecode: -")
	}
	fmt.Fprintf(p.out, "mode: %s, %d updates/s, frame %dus\n", s.Mode, s.UpdatesPerSecond, s.LimitMicros)
	if len(s.Disabled) > 0 {
		fmt.Fprintf(p.out, "disabled: %s\n", strings.Join(s.Disabled, ", "))
	}
	for _, st := range s.Sinks {
		fmt.Fprintf(p.out, "  %-10s delivered=%d failed=%d\n", st.Output, st.Delivered, st.Failed)
	}
}

func (p *CommandProcessor) printNodes() error {
	if p.target.Nodes == nil {
		return ErrNoArtNet
	}
	entries := p.target.Nodes.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(p.out, "ノードは見つかっていません")
		return nil
	}
	for i, e := range entries {
		fmt.Fprintf(p.out, "%3d %-15s %s %s\n", i+1, e.IP, e.MACString(), e.ShortName)
	}
	return nil
}

func (p *CommandProcessor) printNode(index int) error {
	if p.target.Nodes == nil {
		return ErrNoArtNet
	}
	e, ok := p.target.Nodes.Entry(index)
	if !ok {
		return fmt.Errorf("node %d: %w", index, artnet.ErrNodeNotFound)
	}
	fmt.Fprintf(p.out, "IP:          %s\n", e.IP)
	fmt.Fprintf(p.out, "MAC:         %s\n", e.MACString())
	fmt.Fprintf(p.out, "Short name:  %s\n", e.ShortName)
	fmt.Fprintf(p.out, "Long name:   %s\n", e.LongName)
	fmt.Fprintf(p.out, "Status:      %02x %02x\n", e.Status1, e.Status2)
	fmt.Fprintf(p.out, "Last update: %s\n", e.LastUpdate.Format("15:04:05"))
	fmt.Fprintf(p.out, "Programmed:  %s / %s\n", e.IpProg.IP, e.IpProg.SubnetMask)
	return nil
}

// PrintUsage はコマンドの一覧を表示する
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "コマンド:")
	for _, def := range commandTable {
		usage := def.name
		if def.args != "" {
			usage += " " + def.args
		}
		fmt.Fprintf(w, "  %-18s %s\n", usage, def.summary)
	}
	names := make([]string, 0, len(timecode.AllOutputs))
	for _, o := range timecode.AllOutputs {
		names = append(names, o.String())
	}
	fmt.Fprintf(w, "出力先: %s\n", strings.Join(names, ", "))
}
