package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"ltc-node/ntp"
	"ltc-node/timecode"
)

const (
	// DefaultConfigFile はデフォルトの設定ファイル名
	DefaultConfigFile = "config.toml"
)

// ErrInvalidConfig は設定値が範囲外であることを示す
var ErrInvalidConfig = errors.New("invalid config")

// Source はタイムコードの入力元
type Source string

const (
	SourceArtNet   Source = "artnet"
	SourceInternal Source = "internal"
)

// Config はアプリケーション全体の設定を表す
type Config struct {
	Debug  bool   `toml:"debug"`
	Source Source `toml:"source"`

	DisableDisplay   bool `toml:"disable_display"`
	DisableMax7219   bool `toml:"disable_max7219"`
	DisableMidi      bool `toml:"disable_midi"`
	DisableArtNet    bool `toml:"disable_artnet"`
	DisableLtc       bool `toml:"disable_ltc"`
	DisableNtp       bool `toml:"disable_ntp"`
	DisableLeds      bool `toml:"disable_leds"`
	DisableMqtt      bool `toml:"disable_mqtt"`
	DisableWebSocket bool `toml:"disable_websocket"`

	ShowSysTime bool `toml:"show_systime"`

	// 日付（NTP の応答に使う）。0 は起動時の日付
	Year  int `toml:"year"`
	Month int `toml:"month"`
	Day   int `toml:"day"`

	// 内部ジェネレーター（source = "internal"）の設定
	FPS         int  `toml:"fps"`
	StartHour   int  `toml:"start_hour"`
	StartMinute int  `toml:"start_minute"`
	StartSecond int  `toml:"start_second"`
	StartFrame  int  `toml:"start_frame"`
	StopHour    int  `toml:"stop_hour"`
	StopMinute  int  `toml:"stop_minute"`
	StopSecond  int  `toml:"stop_second"`
	StopFrame   int  `toml:"stop_frame"`
	Loop        bool `toml:"loop"`

	Log struct {
		Filename string `toml:"filename"`
	} `toml:"log"`
	Display struct {
		Terminal         bool   `toml:"terminal"`
		Max7219Device    string `toml:"max7219_device"`
		Max7219Intensity int    `toml:"max7219_intensity"`
	} `toml:"display"`
	Leds struct {
		Root   string `toml:"root"`
		Status string `toml:"status"`
		Film   string `toml:"film"`
		EBU    string `toml:"ebu"`
		DF     string `toml:"df"`
		SMPTE  string `toml:"smpte"`
	} `toml:"leds"`
	MIDI struct {
		Port   string `toml:"port"`
		Serial string `toml:"serial"`
	} `toml:"midi"`
	ArtNet struct {
		IP           string `toml:"ip"`
		Interface    string `toml:"interface"`
		Broadcast    string `toml:"broadcast"`
		PollInterval string `toml:"poll_interval"`
		ShortName    string `toml:"short_name"`
		LongName     string `toml:"long_name"`
	} `toml:"artnet"`
	LTC struct {
		SampleRate int     `toml:"sample_rate"`
		Amplitude  float64 `toml:"amplitude"`
	} `toml:"ltc"`
	MQTT struct {
		Broker      string `toml:"broker"`
		TopicPrefix string `toml:"topic_prefix"`
		ClientID    string `toml:"client_id"`
		Username    string `toml:"username"`
		Password    string `toml:"password"`
		QoS         int    `toml:"qos"`
	} `toml:"mqtt"`
	NTP struct {
		Port     int    `toml:"port"`
		Timezone string `toml:"timezone"`
	} `toml:"ntp"`
	HTTPServer struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		WebRoot  string `toml:"web_root"`
		CertFile string `toml:"cert_file"`
		KeyFile  string `toml:"key_file"`
	} `toml:"http_server"`
}

// NewConfig はデフォルト設定を持つConfigを作成する
func NewConfig() *Config {
	cfg := &Config{
		Source:      SourceArtNet,
		DisableNtp:  true,
		DisableMqtt: true,
		FPS:         25,
		StopHour:    23,
		StopMinute:  29,
		StopSecond:  59,
		StopFrame:   24,
		Loop:        true,
	}
	cfg.Log.Filename = "ltc-node.log"
	cfg.Display.Terminal = true
	cfg.Display.Max7219Intensity = 4
	cfg.ArtNet.PollInterval = "8s"
	cfg.ArtNet.ShortName = "ltc-node"
	cfg.ArtNet.LongName = "ltc-node timecode distribution"
	cfg.LTC.SampleRate = 48000
	cfg.LTC.Amplitude = 0.5
	cfg.MQTT.TopicPrefix = "ltc"
	cfg.NTP.Port = ntp.Port
	cfg.HTTPServer.Host = "localhost"
	cfg.HTTPServer.Port = 8080
	return cfg
}

// LoadConfig は設定を読み込む
// 以下の優先順位でロードする:
// 1. 指定されたパスの設定ファイル（指定がある場合）
// 2. カレントディレクトリのデフォルト設定ファイル（存在する場合）
// 3. デフォルト設定
func LoadConfig(configPath string) (*Config, error) {
	config := NewConfig()

	filePath := configPath
	if filePath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		} else {
			return config, nil
		}
	}

	md, err := toml.DecodeFile(filePath, config)
	if err != nil {
		return nil, err
	}
	// stop_frame を省略した場合は fps に合わせる
	if !md.IsDefined("stop_frame") {
		config.StopFrame = config.FPS - 1
	}
	return config, nil
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s=%d (must be %d..%d)", ErrInvalidConfig, name, v, lo, hi)
	}
	return nil
}

// Validate は値の範囲を確認する
func (c *Config) Validate() error {
	switch c.Source {
	case SourceArtNet, SourceInternal:
	default:
		return fmt.Errorf("%w: source=%q (must be artnet or internal)", ErrInvalidConfig, c.Source)
	}

	if err := checkRange("fps", c.FPS, 24, 30); err != nil {
		return err
	}
	if _, err := timecode.TypeForFPS(c.FPS); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Year != 0 && c.Year < 19 {
		return fmt.Errorf("%w: year=%d (must be >= 19)", ErrInvalidConfig, c.Year)
	}
	if c.Month != 0 {
		if err := checkRange("month", c.Month, 1, 12); err != nil {
			return err
		}
	}
	if c.Day != 0 {
		if err := checkRange("day", c.Day, 1, 31); err != nil {
			return err
		}
	}

	checks := []struct {
		name   string
		v, max int
	}{
		{"start_hour", c.StartHour, 23},
		{"start_minute", c.StartMinute, 59},
		{"start_second", c.StartSecond, 59},
		{"start_frame", c.StartFrame, c.FPS - 1},
		{"stop_hour", c.StopHour, 23},
		{"stop_minute", c.StopMinute, 59},
		{"stop_second", c.StopSecond, 59},
		{"stop_frame", c.StopFrame, c.FPS - 1},
		{"display.max7219_intensity", c.Display.Max7219Intensity, 15},
		{"mqtt.qos", c.MQTT.QoS, 2},
		{"ntp.port", c.NTP.Port, 65535},
		{"http_server.port", c.HTTPServer.Port, 65535},
	}
	for _, ck := range checks {
		if err := checkRange(ck.name, ck.v, 0, ck.max); err != nil {
			return err
		}
	}

	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if c.ArtNet.IP != "" && net.ParseIP(c.ArtNet.IP).To4() == nil {
		return fmt.Errorf("%w: artnet.ip=%q", ErrInvalidConfig, c.ArtNet.IP)
	}
	if c.ArtNet.Broadcast != "" && net.ParseIP(c.ArtNet.Broadcast).To4() == nil {
		return fmt.Errorf("%w: artnet.broadcast=%q", ErrInvalidConfig, c.ArtNet.Broadcast)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if !c.DisableMqtt && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is required unless disable_mqtt is set", ErrInvalidConfig)
	}
	return nil
}

// DisabledOutputs は disable_* の設定から無効化マスクを作る
func (c *Config) DisabledOutputs() timecode.Output {
	var mask timecode.Output
	flags := []struct {
		disabled bool
		output   timecode.Output
	}{
		{c.DisableDisplay, timecode.OutputDisplay},
		{c.DisableMax7219, timecode.OutputMax7219},
		{c.DisableMidi, timecode.OutputMidi},
		{c.DisableArtNet, timecode.OutputArtNet},
		{c.DisableLtc, timecode.OutputLtc},
		{c.DisableNtp, timecode.OutputNtp},
		{c.DisableLeds, timecode.OutputLeds},
		{c.DisableMqtt, timecode.OutputMqtt},
		{c.DisableWebSocket, timecode.OutputWebSocket},
	}
	for _, f := range flags {
		if f.disabled {
			mask |= f.output
		}
	}
	return mask
}

// Type は fps から種別を返す。Validate 済みであること。
func (c *Config) Type() timecode.Type {
	t, err := timecode.TypeForFPS(c.FPS)
	if err != nil {
		return timecode.TypeInvalid
	}
	return t
}

// StartTimeCode は内部ジェネレーターの開始値
func (c *Config) StartTimeCode() timecode.TimeCode {
	return timecode.TimeCode{
		Hours:   uint8(c.StartHour),
		Minutes: uint8(c.StartMinute),
		Seconds: uint8(c.StartSecond),
		Frames:  uint8(c.StartFrame),
		Type:    c.Type(),
	}
}

// StopTimeCode は内部ジェネレーターの終了値
func (c *Config) StopTimeCode() timecode.TimeCode {
	return timecode.TimeCode{
		Hours:   uint8(c.StopHour),
		Minutes: uint8(c.StopMinute),
		Seconds: uint8(c.StopSecond),
		Frames:  uint8(c.StopFrame),
		Type:    c.Type(),
	}
}

// Date は NTP 応答に使う日付。0 の項目は now の値を使う。year は2桁なら 2000 年代とみなす。
func (c *Config) Date(now time.Time) ntp.Date {
	d := ntp.Date{Year: now.Year(), Month: now.Month(), Day: now.Day()}
	if c.Year != 0 {
		d.Year = c.Year
		if d.Year < 100 {
			d.Year += 2000
		}
	}
	if c.Month != 0 {
		d.Month = time.Month(c.Month)
	}
	if c.Day != 0 {
		d.Day = c.Day
	}
	return d
}

// Location は ntp.timezone を読み込む。空なら time.Local。
func (c *Config) Location() (*time.Location, error) {
	if c.NTP.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.NTP.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: ntp.timezone=%q: %v", ErrInvalidConfig, c.NTP.Timezone, err)
	}
	return loc, nil
}

// PollInterval は artnet.poll_interval を解釈する
func (c *Config) PollInterval() (time.Duration, error) {
	if c.ArtNet.PollInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ArtNet.PollInterval)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: artnet.poll_interval=%q", ErrInvalidConfig, c.ArtNet.PollInterval)
	}
	return d, nil
}

// HTTPAddr はステータスサーバーの待ち受けアドレス
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPServer.Host, fmt.Sprint(c.HTTPServer.Port))
}

// ApplyCommandLineArgs はコマンドライン引数で指定された値を設定に適用する
func (c *Config) ApplyCommandLineArgs(args CommandLineArgs) {
	if args.DebugSpecified {
		c.Debug = args.Debug
	}
	if args.LogFilenameSpecified {
		c.Log.Filename = args.LogFilename
	}
	if args.SourceSpecified {
		c.Source = Source(args.Source)
	}
	if args.FPSSpecified {
		c.FPS = args.FPS
		c.StopFrame = min(c.StopFrame, c.FPS-1)
	}
	if args.DisableSpecified {
		for _, name := range args.Disable {
			c.setDisabled(name, true)
		}
	}
	if args.EnableSpecified {
		for _, name := range args.Enable {
			c.setDisabled(name, false)
		}
	}
	if args.MIDIPortSpecified {
		c.MIDI.Port = args.MIDIPort
	}
	if args.ArtNetIPSpecified {
		c.ArtNet.IP = args.ArtNetIP
	}
	if args.MQTTBrokerSpecified {
		c.MQTT.Broker = args.MQTTBroker
	}
	if args.HTTPServerHostSpecified {
		c.HTTPServer.Host = args.HTTPServerHost
	}
	if args.HTTPServerPortSpecified {
		c.HTTPServer.Port = args.HTTPServerPort
	}
	if args.HTTPServerWebRootSpecified {
		c.HTTPServer.WebRoot = args.HTTPServerWebRoot
	}
}

func (c *Config) setDisabled(name string, disabled bool) {
	o, err := timecode.ParseOutput(name)
	if err != nil {
		return
	}
	switch o {
	case timecode.OutputDisplay:
		c.DisableDisplay = disabled
	case timecode.OutputMax7219:
		c.DisableMax7219 = disabled
	case timecode.OutputMidi:
		c.DisableMidi = disabled
	case timecode.OutputArtNet:
		c.DisableArtNet = disabled
	case timecode.OutputLtc:
		c.DisableLtc = disabled
	case timecode.OutputNtp:
		c.DisableNtp = disabled
	case timecode.OutputLeds:
		c.DisableLeds = disabled
	case timecode.OutputMqtt:
		c.DisableMqtt = disabled
	case timecode.OutputWebSocket:
		c.DisableWebSocket = disabled
	}
}

// CommandLineArgs はコマンドライン引数からの値を保持する
type CommandLineArgs struct {
	// 設定ファイル (メタ設定)
	ConfigFile      string
	ConfigSpecified bool

	Debug          bool
	DebugSpecified bool

	LogFilename          string
	LogFilenameSpecified bool

	Source          string
	SourceSpecified bool
	FPS             int
	FPSSpecified    bool

	// 出力先の無効化・有効化（カンマ区切り）
	Disable          []string
	DisableSpecified bool
	Enable           []string
	EnableSpecified  bool

	MIDIPort          string
	MIDIPortSpecified bool

	ArtNetIP          string
	ArtNetIPSpecified bool

	MQTTBroker          string
	MQTTBrokerSpecified bool

	HTTPServerHost             string
	HTTPServerHostSpecified    bool
	HTTPServerPort             int
	HTTPServerPortSpecified    bool
	HTTPServerWebRoot          string
	HTTPServerWebRootSpecified bool
}

// ParseCommandLineArgs はコマンドライン引数をパースする
func ParseCommandLineArgs() CommandLineArgs {
	args, err := parseArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		// flag.ExitOnError なのでここには来ない
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return args
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseArgs(fs *flag.FlagSet, argv []string) (CommandLineArgs, error) {
	var args CommandLineArgs

	configFileFlag := fs.String("config", "", "TOML設定ファイルのパスを指定する")
	debugFlag := fs.Bool("debug", false, "デバッグモードを有効にする")
	logFilenameFlag := fs.String("log", "ltc-node.log", "ログファイル名を指定する")
	sourceFlag := fs.String("source", "artnet", "タイムコードの入力元 (artnet | internal)")
	fpsFlag := fs.Int("fps", 25, "内部ジェネレーターのフレームレート (24, 25, 29, 30)")
	disableFlag := fs.String("disable", "", "無効にする出力先（カンマ区切り）")
	enableFlag := fs.String("enable", "", "有効にする出力先（カンマ区切り）")
	midiPortFlag := fs.String("midi-port", "", "MIDI出力ポート名（部分一致）")
	artnetIPFlag := fs.String("artnet-ip", "", "Art-Net で使うローカルIPアドレス")
	mqttBrokerFlag := fs.String("mqtt-broker", "", "MQTTブローカーのアドレス (host:port)")
	httpHostFlag := fs.String("http-host", "localhost", "HTTPサーバーのホスト名を指定する")
	httpPortFlag := fs.Int("http-port", 8080, "HTTPサーバーのポートを指定する")
	httpWebRootFlag := fs.String("http-webroot", "", "HTTPサーバーのWebルートディレクトリを指定する")

	if err := fs.Parse(argv); err != nil {
		return args, err
	}

	specified := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		specified[f.Name] = true
	})

	args.ConfigFile = *configFileFlag
	args.ConfigSpecified = specified["config"]

	args.Debug = *debugFlag
	args.DebugSpecified = specified["debug"]

	args.LogFilename = *logFilenameFlag
	args.LogFilenameSpecified = specified["log"]

	args.Source = *sourceFlag
	args.SourceSpecified = specified["source"]
	args.FPS = *fpsFlag
	args.FPSSpecified = specified["fps"]

	args.Disable = splitList(*disableFlag)
	args.DisableSpecified = specified["disable"]
	args.Enable = splitList(*enableFlag)
	args.EnableSpecified = specified["enable"]

	args.MIDIPort = *midiPortFlag
	args.MIDIPortSpecified = specified["midi-port"]

	args.ArtNetIP = *artnetIPFlag
	args.ArtNetIPSpecified = specified["artnet-ip"]

	args.MQTTBroker = *mqttBrokerFlag
	args.MQTTBrokerSpecified = specified["mqtt-broker"]

	args.HTTPServerHost = *httpHostFlag
	args.HTTPServerHostSpecified = specified["http-host"]
	args.HTTPServerPort = *httpPortFlag
	args.HTTPServerPortSpecified = specified["http-port"]
	args.HTTPServerWebRoot = *httpWebRootFlag
	args.HTTPServerWebRootSpecified = specified["http-webroot"]

	return args, nil
}
