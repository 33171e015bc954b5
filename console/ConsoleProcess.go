package console

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"
)

// IsInteractive は標準入力が端末なら true を返す
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ConsoleProcess は quit が入力されるか ctx がキャンセルされるまで対話コンソールを動かす
func ConsoleProcess(ctx context.Context, target Target) {
	processor := NewCommandProcessor(ctx, target, os.Stdout)
	processor.Start()
	defer processor.Stop()

	fmt.Println("help for usage, quit to exit")

	quit := false
	executor := func(line string) {
		cmd, err := ParseCommand(line)
		if errors.Is(err, ErrEmptyCommand) {
			return
		}
		if err != nil {
			fmt.Printf("エラー: %v\n", err)
			return
		}
		if err := processor.SendCommand(cmd); err != nil {
			fmt.Printf("エラー: %v\n", err)
		}
		if cmd.Type == CmdQuit {
			quit = true
		}
	}

	c := &completer{disabled: target.Disabled}
	p := prompt.New(
		executor,
		c.Complete,
		prompt.OptionPrefix("> "),
		prompt.OptionTitle("ltc-node"),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return quit }),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
