package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/netip"
	"testing"

	"github.com/c-bata/go-prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ltc-node/artnet"
	"ltc-node/timecode"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input   string
		want    CommandType
		node    int
		output  timecode.Output
		wantErr bool
	}{
		{input: "status", want: CmdStatus},
		{input: "  NODES  ", want: CmdNodes},
		{input: "node 3", want: CmdNode, node: 3},
		{input: "node 0", wantErr: true},
		{input: "node 256", wantErr: true},
		{input: "node x", wantErr: true},
		{input: "node", wantErr: true},
		{input: "enable midi", want: CmdEnable, output: timecode.OutputMidi},
		{input: "disable ArtNet", want: CmdDisable, output: timecode.OutputArtNet},
		{input: "disable dmx", wantErr: true},
		{input: "poll now", wantErr: true},
		{input: "dump", want: CmdDump},
		{input: "help", want: CmdHelp},
		{input: "exit", want: CmdQuit},
		{input: "reboot", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := ParseCommand(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Type)
			assert.Equal(t, tt.node, cmd.NodeIndex)
			assert.Equal(t, tt.output, cmd.Output)
			assert.NotNil(t, cmd.Done)
		})
	}

	_, err := ParseCommand("   ")
	assert.True(t, errors.Is(err, ErrEmptyCommand))
}

type fakeStatus struct {
	disabled *timecode.DisabledOutputs
}

func (f fakeStatus) Status() timecode.Status {
	tc := timecode.TimeCode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4, Type: timecode.TypeEBU}
	return timecode.Status{
		TimeCode:         tc,
		HasTimeCode:      true,
		Text:             timecode.FormatText(tc).String(),
		Mode:             timecode.ModeLocked,
		UpdatesPerSecond: 25,
		LimitMicros:      40000,
		Disabled:         f.disabled.Names(),
		Sinks:            []timecode.SinkStats{{Output: timecode.OutputLtc, Delivered: 7}},
	}
}

type mockPoller struct {
	mock.Mock
}

func (m *mockPoller) Poll() error {
	return m.Called().Error(0)
}

func newProcessor(t *testing.T, target Target) (*CommandProcessor, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	p := NewCommandProcessor(context.Background(), target, &out)
	p.Start()
	t.Cleanup(p.Stop)
	return p, &out
}

func run(t *testing.T, p *CommandProcessor, line string) error {
	t.Helper()
	cmd, err := ParseCommand(line)
	require.NoError(t, err)
	return p.SendCommand(cmd)
}

func TestCommandProcessor_StatusAndOutputs(t *testing.T) {
	disabled := timecode.NewDisabledOutputs(0)
	p, out := newProcessor(t, Target{Status: fakeStatus{disabled: disabled}, Disabled: disabled})

	require.NoError(t, run(t, p, "disable midi"))
	assert.True(t, disabled.IsDisabled(timecode.OutputMidi))

	out.Reset()
	require.NoError(t, run(t, p, "status"))
	assert.Contains(t, out.String(), "timecode: 01:02.03:04 (EBU 25fps)")
	assert.Contains(t, out.String(), "mode: locked, 25 updates/s, frame 40000us")
	assert.Contains(t, out.String(), "disabled: midi")
	assert.Contains(t, out.String(), "delivered=7")

	require.NoError(t, run(t, p, "enable midi"))
	assert.False(t, disabled.IsDisabled(timecode.OutputMidi))
}

func TestCommandProcessor_WithoutArtNet(t *testing.T) {
	disabled := timecode.NewDisabledOutputs(0)
	p, _ := newProcessor(t, Target{Status: fakeStatus{disabled: disabled}, Disabled: disabled})

	for _, line := range []string{"nodes", "node 1", "poll", "dump"} {
		assert.ErrorIs(t, run(t, p, line), ErrNoArtNet, line)
	}
}

func TestCommandProcessor_Nodes(t *testing.T) {
	table := artnet.NewPollTable()
	_, err := table.Add(artnet.PollReply{
		IP:        netip.MustParseAddr("2.0.0.7"),
		MAC:       [6]byte{0, 1, 2, 3, 4, 5},
		ShortName: "dimmer",
		LongName:  "Dimmer rack",
	})
	require.NoError(t, err)

	poller := &mockPoller{}
	poller.On("Poll").Return(nil).Once()

	disabled := timecode.NewDisabledOutputs(0)
	p, out := newProcessor(t, Target{
		Status:   fakeStatus{disabled: disabled},
		Disabled: disabled,
		Nodes:    table,
		Poller:   poller,
	})

	require.NoError(t, run(t, p, "nodes"))
	assert.Contains(t, out.String(), "2.0.0.7")
	assert.Contains(t, out.String(), "00:01:02:03:04:05 dimmer")

	out.Reset()
	require.NoError(t, run(t, p, "node 1"))
	assert.Contains(t, out.String(), "Long name:   Dimmer rack")

	assert.ErrorIs(t, run(t, p, "node 2"), artnet.ErrNodeNotFound)

	out.Reset()
	require.NoError(t, run(t, p, "dump"))
	assert.Contains(t, out.String(), "Entries : 1")

	require.NoError(t, run(t, p, "poll"))
	poller.AssertExpectations(t)
}

func TestCommandProcessor_QuitStops(t *testing.T) {
	disabled := timecode.NewDisabledOutputs(0)
	p := NewCommandProcessor(context.Background(), Target{Status: fakeStatus{disabled: disabled}, Disabled: disabled}, io.Discard)
	p.Start()

	require.NoError(t, run(t, p, "quit"))
	<-p.done

	cmd, err := ParseCommand("status")
	require.NoError(t, err)
	assert.ErrorIs(t, p.SendCommand(cmd), context.Canceled)
	p.Stop()
}

func TestPrintUsage(t *testing.T) {
	var out bytes.Buffer
	PrintUsage(&out)
	assert.Contains(t, out.String(), "node <n>")
	assert.Contains(t, out.String(), "ltc, artnet, ntp, midi")
}

func document(text string) prompt.Document {
	buf := prompt.NewBuffer()
	buf.InsertText(text, false, true)
	return *buf.Document()
}

func suggestTexts(s []prompt.Suggest) []string {
	texts := make([]string, 0, len(s))
	for _, v := range s {
		texts = append(texts, v.Text)
	}
	return texts
}

func TestCompleter(t *testing.T) {
	disabled := timecode.NewDisabledOutputs(timecode.OutputMidi)
	c := &completer{disabled: disabled}

	assert.Equal(t, []string{"nodes", "node"}, suggestTexts(c.Complete(document("no"))))
	assert.Len(t, c.Complete(document("")), len(commandTable))

	// enable は無効な出力先だけを候補にする
	assert.Equal(t, []string{"midi"}, suggestTexts(c.Complete(document("enable "))))
	assert.Equal(t, []string{"mqtt"}, suggestTexts(c.Complete(document("disable mq"))))
	assert.Empty(t, c.Complete(document("status ")))
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{}, splitWords(""))
	assert.Equal(t, []string{"node"}, splitWords("node"))
	assert.Equal(t, []string{"node", ""}, splitWords("node "))
	assert.Equal(t, []string{"enable", "midi"}, splitWords("enable  midi"))
}
