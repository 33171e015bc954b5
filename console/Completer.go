package console

import (
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/exp/slices"

	"ltc-node/timecode"
)

// completer は go-prompt の補完候補を返す
type completer struct {
	disabled *timecode.DisabledOutputs
}

// commandCandidates はコマンド名の候補を返す
func commandCandidates() []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(commandTable))
	for _, def := range commandTable {
		suggests = append(suggests, prompt.Suggest{Text: def.name, Description: def.summary})
	}
	return suggests
}

// outputCandidates は enable / disable の対象候補を返す。
// 既に目的の状態になっている出力先は除く。
func (c *completer) outputCandidates(enable bool) []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(timecode.AllOutputs))
	for _, o := range timecode.AllOutputs {
		if c.disabled != nil && c.disabled.IsDisabled(o) != enable {
			continue
		}
		suggests = append(suggests, prompt.Suggest{Text: o.String()})
	}
	return suggests
}

// Complete は入力途中の行に対する候補を返す
func (c *completer) Complete(d prompt.Document) []prompt.Suggest {
	words := splitWords(d.TextBeforeCursor())
	if len(words) == 0 {
		return commandCandidates()
	}
	current := words[len(words)-1]

	if len(words) == 1 {
		return prompt.FilterHasPrefix(commandCandidates(), current, true)
	}
	if len(words) == 2 && slices.Contains([]string{"enable", "disable"}, words[0]) {
		return prompt.FilterHasPrefix(c.outputCandidates(words[0] == "enable"), current, true)
	}
	return []prompt.Suggest{}
}

// splitWords は入力行を単語に分割する。末尾が空白なら空の単語を1つ追加する。
func splitWords(line string) []string {
	if line == "" {
		return []string{}
	}
	words := strings.Fields(line)
	if strings.HasSuffix(line, " ") || strings.HasSuffix(line, "\t") {
		words = append(words, "")
	}
	return words
}
