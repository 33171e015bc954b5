// Package mqtt はタイムコードを MQTT ブローカーへ配信する
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"ltc-node/timecode"
)

var (
	ErrNotConnected   = errors.New("mqtt: not connected")
	ErrConnectTimeout = errors.New("mqtt: connection timeout")
)

// Config は接続設定
type Config struct {
	Broker      string // host:port
	TopicPrefix string
	ClientID    string // 空なら ltc-node-<uuid>
	Username    string
	Password    string
	QoS         byte
}

// publisher は paho.Client のうち Publisher が使う部分
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// TimeCodeMessage は <prefix>/timecode に送る内容
type TimeCodeMessage struct {
	Text    string `json:"text"`
	Hours   uint8  `json:"hours"`
	Minutes uint8  `json:"minutes"`
	Seconds uint8  `json:"seconds"`
	Frames  uint8  `json:"frames"`
}

// TypeMessage は <prefix>/type に retained で送る内容
type TypeMessage struct {
	Type string `json:"type"`
	FPS  uint32 `json:"fps"`
}

// Publisher はタイムコードを MQTT に送る出力先
type Publisher struct {
	cfg    Config
	client paho.Client
	pub    publisher

	connected atomic.Bool
	published atomic.Uint64
}

// NewClientID は ltc-node-<uuid> 形式のクライアントIDを作る
func NewClientID() string {
	return "ltc-node-" + uuid.NewString()
}

// NewPublisher は Publisher を作成する。接続は Connect で行う。
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "ltc"
	}
	return &Publisher{cfg: cfg}
}

// Topic は prefix を付けたトピック名を返す
func (p *Publisher) Topic(name string) string {
	return p.cfg.TopicPrefix + "/" + name
}

// Connect はブローカーに接続する。切断後は自動で再接続する。
func (p *Publisher) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(p.Topic("status"), "offline", 1, true)

	opts.OnConnect = func(c paho.Client) {
		p.connected.Store(true)
		c.Publish(p.Topic("status"), 1, true, "online")
		slog.Info("MQTT ブローカーに接続しました", "broker", p.cfg.Broker, "client_id", p.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.connected.Store(false)
		slog.Warn("MQTT の接続が切れました。再接続を待ちます", "broker", p.cfg.Broker, "err", err)
	}

	p.client = paho.NewClient(opts)
	p.pub = p.client

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("%w: %s", ErrConnectTimeout, p.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", p.cfg.Broker, err)
	}
	p.connected.Store(true)
	return nil
}

// Disconnect は接続を閉じる
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Publish(p.Topic("status"), 1, true, "offline").WaitTimeout(time.Second)
		p.client.Disconnect(250)
		slog.Info("MQTT を切断しました")
	}
	p.connected.Store(false)
}

// publish はブロックせずに送信を依頼する。すでに完了していればそのエラーを返す。
func (p *Publisher) publish(topic string, retained bool, v any) error {
	if p.pub == nil || !p.connected.Load() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := p.pub.Publish(topic, p.cfg.QoS, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	default:
	}
	p.published.Add(1)
	return nil
}

func (p *Publisher) TimeCodeChanged(tc timecode.TimeCode, text timecode.Text) error {
	return p.publish(p.Topic("timecode"), false, TimeCodeMessage{
		Text:    text.String(),
		Hours:   tc.Hours,
		Minutes: tc.Minutes,
		Seconds: tc.Seconds,
		Frames:  tc.Frames,
	})
}

func (p *Publisher) TypeChanged(tc timecode.TimeCode) error {
	return p.publish(p.Topic("type"), true, TypeMessage{Type: tc.Type.String(), FPS: tc.Type.FPS()})
}

// Published は送信を依頼したメッセージ数
func (p *Publisher) Published() uint64 {
	return p.published.Load()
}
