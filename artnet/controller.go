package artnet

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"ltc-node/timecode"
)

// DefaultPollInterval は ArtPoll を送る間隔
const DefaultPollInterval = 8 * time.Second

// Conn は Controller が使う UDP ソケット（network.UDPConnection が満たす）
type Conn interface {
	Broadcast(data []byte) (int, error)
	SendTo(dstIP net.IP, data []byte) (int, error)
	Receive(ctx context.Context) ([]byte, *net.UDPAddr, error)
}

// Identity は ArtPoll / ArtIpProg に応答するときの自ノードの情報
type Identity struct {
	IP         netip.Addr
	SubnetMask netip.Addr
	MAC        [6]byte
	ShortName  string
	LongName   string
}

// ControllerOptions は Controller の設定
type ControllerOptions struct {
	Conn         Conn
	Table        *PollTable // 省略時は NewPollTable
	PollInterval time.Duration
	Identity     Identity
	// OnTimeCode が nil でなければ、受信した ArtTimeCode をデコード元として渡す
	OnTimeCode func(timecode.TimeCode)
	// OnNodesChanged は新しいノードが見つかったときに呼ばれる
	OnNodesChanged func()
}

// Controller は Art-Net のノード探索とタイムコード送信を行う。
// timecode.Sink として OutputArtNet に登録する。
type Controller struct {
	conn           Conn
	table          *PollTable
	pollInterval   time.Duration
	identity       Identity
	onTimeCode     func(timecode.TimeCode)
	onNodesChanged func()

	fullLogged atomic.Bool

	mu      sync.Mutex
	running bool
}

// NewController は Controller を作成する
func NewController(opts ControllerOptions) *Controller {
	if opts.Table == nil {
		opts.Table = NewPollTable()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Controller{
		conn:           opts.Conn,
		table:          opts.Table,
		pollInterval:   opts.PollInterval,
		identity:       opts.Identity,
		onTimeCode:     opts.OnTimeCode,
		onNodesChanged: opts.OnNodesChanged,
	}
}

// Table は探索テーブルを返す
func (c *Controller) Table() *PollTable {
	return c.table
}

// TimeCodeChanged は ArtTimeCode をブロードキャストする
func (c *Controller) TimeCodeChanged(tc timecode.TimeCode, _ timecode.Text) error {
	_, err := c.conn.Broadcast(EncodeTimeCode(tc))
	return err
}

// TypeChanged は何もしない。種別は値の一部なので TimeCodeChanged で送られる。
func (c *Controller) TypeChanged(timecode.TimeCode) error {
	return nil
}

// Poll は ArtPoll をブロードキャストする
func (c *Controller) Poll() error {
	_, err := c.conn.Broadcast(Poll{}.Encode())
	if err != nil {
		return err
	}
	slog.Debug("ArtPoll を送信しました")
	return nil
}

// Run は受信ループと定期 ArtPoll を開始し、コンテキストのキャンセルで戻る
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("artnet: controller already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pollLoop(ctx)
	}()

	c.receiveLoop(ctx)
	wg.Wait()
	return nil
}

func (c *Controller) pollLoop(ctx context.Context) {
	if err := c.Poll(); err != nil {
		slog.Warn("ArtPoll の送信に失敗", "err", err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Poll(); err != nil {
				slog.Warn("ArtPoll の送信に失敗", "err", err)
			}
		}
	}
}

func (c *Controller) receiveLoop(ctx context.Context) {
	for {
		data, src, err := c.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("Art-Net の受信に失敗", "err", err)
			continue
		}
		if data == nil {
			continue
		}
		c.HandlePacket(data, src)
	}
}

// HandlePacket は受信した1パケットを処理する
func (c *Controller) HandlePacket(data []byte, src *net.UDPAddr) {
	op, err := ReadOpCode(data)
	if err != nil {
		slog.Debug("Art-Net 以外のパケットを無視", "from", src, "err", err)
		return
	}

	switch op {
	case OpPoll:
		c.handlePoll()
	case OpPollReply:
		c.handlePollReply(data)
	case OpIpProg:
		c.handleIpProg(data, src)
	case OpIpProgReply:
		c.handleIpProgReply(data, src)
	case OpTimeCode:
		c.handleTimeCode(data, src)
	default:
		slog.Debug("未対応の OpCode", "opcode", op, "from", src)
	}
}

func (c *Controller) handlePoll() {
	if !c.identity.IP.IsValid() {
		return
	}
	reply := PollReply{
		IP:        c.identity.IP,
		Port:      Port,
		ShortName: c.identity.ShortName,
		LongName:  c.identity.LongName,
		MAC:       c.identity.MAC,
		Style:     0x00, // StNode
	}
	if _, err := c.conn.Broadcast(reply.Encode()); err != nil {
		slog.Warn("ArtPollReply の送信に失敗", "err", err)
	}
}

func (c *Controller) handlePollReply(data []byte) {
	reply, err := DecodePollReply(data)
	if err != nil {
		slog.Debug("ArtPollReply の解析に失敗", "err", err)
		return
	}
	// 自分自身の応答は登録しない
	if c.identity.IP.IsValid() && reply.IP == c.identity.IP {
		return
	}

	added, err := c.table.Add(reply)
	if err != nil {
		if errors.Is(err, ErrTableFull) {
			if !c.fullLogged.Swap(true) {
				slog.Warn("ノード一覧が満杯のため新しいノードを登録できません", "ip", reply.IP, "capacity", MaxNodes)
			}
			return
		}
		slog.Debug("ArtPollReply を登録できません", "err", err)
		return
	}
	if !added {
		return
	}

	slog.Info("Art-Net ノードを検出", "ip", reply.IP, "short_name", reply.ShortName, "nodes", c.table.Len())
	query := IpProg{Command: IpProgCommandQuery}
	if _, err := c.conn.SendTo(net.IP(reply.IP.AsSlice()), query.Encode()); err != nil {
		slog.Warn("ArtIpProg の送信に失敗", "ip", reply.IP, "err", err)
	}
	if c.onNodesChanged != nil {
		c.onNodesChanged()
	}
}

func (c *Controller) handleIpProg(data []byte, src *net.UDPAddr) {
	if !c.identity.IP.IsValid() || src == nil {
		return
	}
	prog, err := DecodeIpProg(data)
	if err != nil {
		slog.Debug("ArtIpProg の解析に失敗", "err", err)
		return
	}
	if prog.Command&IpProgCommandEnableProg != 0 {
		slog.Info("ArtIpProg によるアドレス変更は未対応のため無視します", "from", src)
	}
	mask := c.identity.SubnetMask
	if !mask.IsValid() {
		mask = netip.IPv4Unspecified()
	}
	reply := IpProgReply{IP: c.identity.IP, SubnetMask: mask}
	if _, err := c.conn.SendTo(src.IP, reply.Encode()); err != nil {
		slog.Warn("ArtIpProgReply の送信に失敗", "to", src, "err", err)
	}
}

func (c *Controller) handleIpProgReply(data []byte, src *net.UDPAddr) {
	reply, err := DecodeIpProgReply(data)
	if err != nil {
		slog.Debug("ArtIpProgReply の解析に失敗", "err", err)
		return
	}
	if src != nil {
		if addr, ok := netip.AddrFromSlice(src.IP); ok {
			reply.Source = addr.Unmap()
		}
	}
	if err := c.table.ApplyIpProgReply(reply); err != nil {
		slog.Debug("ArtIpProgReply を反映できません", "err", err)
	}
}

func (c *Controller) handleTimeCode(data []byte, src *net.UDPAddr) {
	if c.onTimeCode == nil {
		return
	}
	tc, err := DecodeTimeCode(data)
	if err != nil {
		slog.Debug("ArtTimeCode を破棄", "from", src, "err", err)
		return
	}
	c.onTimeCode(tc)
}
