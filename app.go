package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"

	"ltc-node/artnet"
	"ltc-node/config"
	"ltc-node/console"
	"ltc-node/display"
	"ltc-node/ltcout"
	"ltc-node/midi"
	"ltc-node/mqtt"
	"ltc-node/network"
	"ltc-node/ntp"
	"ltc-node/server"
	"ltc-node/timecode"
	"ltc-node/timecode/generator"
)

// runner は ctx がキャンセルされるまで動き続ける処理
type runner struct {
	name string
	run  func(ctx context.Context) error
}

// app は設定から組み立てた出力先と入力元
type app struct {
	cfg       *config.Config
	disabled  *timecode.DisabledOutputs
	fanout    *timecode.Fanout
	reader    *timecode.Reader
	artnet    *artnet.Controller
	generator *generator.Generator
	status    *server.StatusServer

	runners []runner
	closers []func()
}

// newApp は出力先をすべて登録し、Reader と入力元を用意する。
// 出力先の登録は入力元が動き出す前に済ませる。
func newApp(ctx context.Context, cfg *config.Config, interactive bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		disabled: timecode.NewDisabledOutputs(cfg.DisabledOutputs()),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()
	a.fanout = timecode.NewFanout(a.disabled)

	midiSink, err := a.setupMIDI()
	if err != nil {
		return nil, err
	}
	leds := a.setupLeds()

	opts := timecode.ReaderOptions{Fanout: a.fanout}
	if midiSink != nil {
		opts.QuarterFrames = midiSink
	}
	if leds != nil {
		opts.Indicator = leds
	}
	a.reader = timecode.NewReader(opts)

	if err := a.setupArtNet(ctx); err != nil {
		return nil, err
	}
	if err := a.setupDisplays(interactive); err != nil {
		return nil, err
	}
	a.setupLTC()
	if err := a.setupNTP(ctx); err != nil {
		return nil, err
	}
	a.setupMQTT(ctx)
	if err := a.setupStatusServer(ctx); err != nil {
		return nil, err
	}
	if err := a.setupGenerator(); err != nil {
		return nil, err
	}

	slog.Info("Outputs registered", "outputs", fmt.Sprint(a.fanout.Outputs()), "disabled", a.disabled.Names())
	ok = true
	return a, nil
}

func (a *app) addRunner(name string, run func(ctx context.Context) error) {
	a.runners = append(a.runners, runner{name: name, run: run})
}

func (a *app) addCloser(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) setupMIDI() (*midi.Sink, error) {
	cfg := a.cfg
	if cfg.DisableMidi || (cfg.MIDI.Port == "" && cfg.MIDI.Serial == "") {
		return nil, nil
	}

	var sink *midi.Sink
	if cfg.MIDI.Serial != "" {
		port, err := midi.OpenSerial(cfg.MIDI.Serial)
		if err != nil {
			return nil, err
		}
		sink = midi.NewSink(port)
		slog.Info("MIDI output opened", "serial", cfg.MIDI.Serial)
	} else {
		port, err := midi.OpenPort(cfg.MIDI.Port)
		if err != nil {
			return nil, err
		}
		sink = midi.NewSink(port)
		slog.Info("MIDI output opened", "port", port.String())
	}
	a.fanout.Register(timecode.OutputMidi, sink)
	a.addCloser(func() { _ = sink.Close() })
	return sink, nil
}

func (a *app) setupLeds() *display.Leds {
	cfg := a.cfg.Leds
	if a.cfg.DisableLeds || (cfg.Status == "" && cfg.Film == "" && cfg.EBU == "" && cfg.DF == "" && cfg.SMPTE == "") {
		return nil
	}
	leds := display.NewLeds(display.SysfsLeds{Root: cfg.Root}, display.LedNames{
		Status: cfg.Status,
		Types:  [4]string{cfg.Film, cfg.EBU, cfg.DF, cfg.SMPTE},
	})
	a.fanout.Register(timecode.OutputLeds, leds)
	a.addRunner("leds", leds.Run)
	return leds
}

// artnetIdentity は ArtPollReply / ArtIpProgReply で名乗る自ノードの情報を作る
func artnetIdentity(ipnet *net.IPNet, mac net.HardwareAddr, shortName, longName string) artnet.Identity {
	id := artnet.Identity{ShortName: shortName, LongName: longName}
	if ipnet == nil {
		return id
	}
	if ip, ok := netip.AddrFromSlice(ipnet.IP.To4()); ok {
		id.IP = ip
	}
	if len(ipnet.Mask) == net.IPv4len {
		if mask, ok := netip.AddrFromSlice(ipnet.Mask); ok {
			id.SubnetMask = mask
		}
	}
	copy(id.MAC[:], mac)
	return id
}

func (a *app) resolveArtNetInterface() (*net.IPNet, net.HardwareAddr, error) {
	cfg := a.cfg.ArtNet
	switch {
	case cfg.Interface != "":
		ipnet, err := network.GetInterfaceIPv4(cfg.Interface)
		if err != nil {
			return nil, nil, err
		}
		iface, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, nil, err
		}
		return ipnet, iface.HardwareAddr, nil
	case cfg.IP != "":
		iface, ipnet, err := network.LookupIPv4(net.ParseIP(cfg.IP))
		if err != nil {
			return nil, nil, err
		}
		return ipnet, iface.HardwareAddr, nil
	}
	return nil, nil, nil
}

func (a *app) setupArtNet(ctx context.Context) error {
	cfg := a.cfg
	useSource := cfg.Source == config.SourceArtNet
	if cfg.DisableArtNet && !useSource {
		return nil
	}

	ipnet, mac, err := a.resolveArtNetInterface()
	if err != nil {
		return fmt.Errorf("art-net interface: %w", err)
	}

	opts := network.Options{Port: artnet.Port, MonitorInterfaces: true}
	if cfg.ArtNet.Broadcast != "" {
		opts.Broadcast = net.ParseIP(cfg.ArtNet.Broadcast)
	} else if ipnet != nil {
		opts.Broadcast = network.BroadcastFor(ipnet)
	}
	conn, err := network.CreateUDPConnection(ctx, opts)
	if err != nil {
		return fmt.Errorf("art-net socket: %w", err)
	}
	a.addCloser(func() { _ = conn.Close() })

	pollInterval, err := cfg.PollInterval()
	if err != nil {
		return err
	}

	controllerOpts := artnet.ControllerOptions{
		Conn:         conn,
		PollInterval: pollInterval,
		Identity:     artnetIdentity(ipnet, mac, cfg.ArtNet.ShortName, cfg.ArtNet.LongName),
		OnNodesChanged: func() {
			if a.status != nil {
				a.status.NodesChanged()
			}
		},
	}
	if useSource {
		controllerOpts.OnTimeCode = a.reader.Handler
	}
	a.artnet = artnet.NewController(controllerOpts)
	a.addRunner("artnet", a.artnet.Run)

	// 受信したタイムコードを同じネットワークに送り返さない
	if !useSource {
		a.fanout.Register(timecode.OutputArtNet, a.artnet)
	}
	return nil
}

func (a *app) setupDisplays(interactive bool) error {
	cfg := a.cfg
	if !cfg.DisableDisplay && cfg.Display.Terminal && !interactive {
		a.fanout.Register(timecode.OutputDisplay, display.NewText(display.NewTerminalLines(os.Stdout)))
	}

	if cfg.DisableMax7219 || cfg.Display.Max7219Device == "" {
		return nil
	}
	dev, err := os.OpenFile(cfg.Display.Max7219Device, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open max7219 device: %w", err)
	}
	a.addCloser(func() { _ = dev.Close() })

	m, err := display.NewMAX7219(dev, uint8(cfg.Display.Max7219Intensity))
	if err != nil {
		return err
	}
	a.fanout.Register(timecode.OutputMax7219, display.NewSegment(m, cfg.ShowSysTime))
	return nil
}

func (a *app) setupLTC() {
	if a.cfg.DisableLtc {
		return
	}
	sender := ltcout.NewSender(beep.SampleRate(a.cfg.LTC.SampleRate), a.cfg.LTC.Amplitude)
	if err := ltcout.Play(sender); err != nil {
		// 音声出力がない環境でも他の出力は動かす
		slog.Warn("LTC output unavailable", "err", err)
		return
	}
	a.fanout.Register(timecode.OutputLtc, sender)
	a.addCloser(ltcout.Stop)
}

func (a *app) setupNTP(ctx context.Context) error {
	if a.cfg.DisableNtp {
		return nil
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	conn, err := network.CreateUDPConnection(ctx, network.Options{Port: a.cfg.NTP.Port})
	if err != nil {
		return fmt.Errorf("ntp socket: %w", err)
	}
	a.addCloser(func() { _ = conn.Close() })

	srv := ntp.NewServer(conn, a.cfg.Date(time.Now()), loc)
	a.fanout.Register(timecode.OutputNtp, srv)
	a.addRunner("ntp", srv.Run)
	return nil
}

func (a *app) setupMQTT(ctx context.Context) {
	cfg := a.cfg.MQTT
	if a.cfg.DisableMqtt {
		return
	}
	pub := mqtt.NewPublisher(mqtt.Config{
		Broker:      cfg.Broker,
		TopicPrefix: cfg.TopicPrefix,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		QoS:         byte(cfg.QoS),
	})
	if err := pub.Connect(ctx); err != nil {
		slog.Warn("MQTT output unavailable", "broker", cfg.Broker, "err", err)
		return
	}
	a.fanout.Register(timecode.OutputMqtt, pub)
	a.addCloser(pub.Disconnect)
}

func (a *app) setupStatusServer(ctx context.Context) error {
	cfg := a.cfg
	if cfg.DisableWebSocket {
		return nil
	}
	opts := server.Options{
		Addr:     cfg.HTTPAddr(),
		Status:   a.reader,
		Disabled: a.disabled,
		WebRoot:  cfg.HTTPServer.WebRoot,
	}
	if a.artnet != nil {
		opts.Nodes = a.artnet.Table()
		opts.Poller = a.artnet
	}
	status, err := server.NewStatusServer(ctx, opts)
	if err != nil {
		return err
	}
	a.status = status
	a.fanout.Register(timecode.OutputWebSocket, status)
	a.addRunner("status server", func(ctx context.Context) error {
		return status.Run(ctx, server.StartOptions{
			CertFile: cfg.HTTPServer.CertFile,
			KeyFile:  cfg.HTTPServer.KeyFile,
		})
	})
	return nil
}

func (a *app) setupGenerator() error {
	if a.cfg.Source != config.SourceInternal {
		return nil
	}
	g, err := generator.NewGenerator(generator.Options{
		Type:  a.cfg.Type(),
		Start: a.cfg.StartTimeCode(),
		Stop:  a.cfg.StopTimeCode(),
		Loop:  a.cfg.Loop,
	})
	if err != nil {
		return err
	}
	a.generator = g
	a.addRunner("generator", func(ctx context.Context) error {
		return g.Run(ctx, a.reader.Handler)
	})
	return nil
}

// Start は Reader と全ての runner を動かす。返すチャネルは全て終了したら close される。
func (a *app) Start(ctx context.Context) <-chan struct{} {
	a.reader.Start()

	var wg sync.WaitGroup
	all := append([]runner{{name: "reader", run: a.reader.Run}}, a.runners...)
	for _, r := range all {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			if err := r.run(ctx); err != nil {
				slog.Error("Component stopped with error", "component", r.name, "err", err)
			}
		}(r)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		a.reader.Stop()
		close(done)
	}()
	return done
}

// ConsoleTarget は対話コンソールの操作対象
func (a *app) ConsoleTarget() console.Target {
	t := console.Target{Status: a.reader, Disabled: a.disabled}
	if a.artnet != nil {
		t.Nodes = a.artnet.Table()
		t.Poller = a.artnet
	}
	return t
}

// Close は開いた出力先を逆順に閉じる
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
