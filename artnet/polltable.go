package artnet

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"
)

// MaxNodes は探索テーブルの容量（Art-Net のアドレス幅）
const MaxNodes = 255

var (
	ErrTableFull      = errors.New("artnet: poll table is full")
	ErrNodeNotFound   = errors.New("artnet: node not found in poll table")
	ErrInvalidAddress = errors.New("artnet: node address is not IPv4")
)

// IpProgRecord は ArtIpProgReply で得たノードのアドレス設定
type IpProgRecord struct {
	IP         netip.Addr
	SubnetMask netip.Addr
	Status     byte
}

// NodeEntry は探索テーブルの1エントリ
type NodeEntry struct {
	IP         netip.Addr
	MAC        [6]byte
	ShortName  string
	LongName   string
	Status1    byte
	Status2    byte
	LastUpdate time.Time
	IpProg     IpProgRecord
}

// MACString は MAC アドレスを xx:xx:xx:xx:xx:xx 形式で返す
func (e NodeEntry) MACString() string {
	m := e.MAC
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

func emptyIpProg() IpProgRecord {
	return IpProgRecord{
		IP:         netip.IPv4Unspecified(),
		SubnetMask: netip.IPv4Unspecified(),
	}
}

// PollTable は ArtPollReply から作るノードの一覧。
// 領域は作成時に MaxNodes 分だけ確保し、以後は伸ばさない。
type PollTable struct {
	mu         sync.RWMutex
	entries    [MaxNodes]NodeEntry
	count      int
	changed    bool
	lastUpdate time.Time
	now        func() time.Time
}

// NewPollTable は空の PollTable を作成する
func NewPollTable() *PollTable {
	return NewPollTableWithClock(time.Now)
}

// NewPollTableWithClock は時刻取得関数を指定して PollTable を作成する
func NewPollTableWithClock(now func() time.Time) *PollTable {
	return &PollTable{now: now}
}

// indexOf は ip のエントリ位置を線形探索する。呼び出し側でロックを持つこと。
func (t *PollTable) indexOf(ip netip.Addr) int {
	for i := 0; i < t.count; i++ {
		if t.entries[i].IP == ip {
			return i
		}
	}
	return -1
}

// Add は ArtPollReply を登録する。既知のアドレスならその場で更新して false、
// 新しいアドレスなら末尾に追加して true を返す。
// 満杯の状態で新しいアドレスが来た場合は何も変えずに ErrTableFull を返す。
func (t *PollTable) Add(reply PollReply) (bool, error) {
	ip := reply.IP.Unmap()
	if !ip.Is4() {
		return false, fmt.Errorf("%w: %s", ErrInvalidAddress, reply.IP)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	i := t.indexOf(ip)
	added := i < 0
	if added {
		if t.count >= MaxNodes {
			t.changed = false
			return false, fmt.Errorf("%w: %s not added (%d entries)", ErrTableFull, ip, t.count)
		}
		i = t.count
		t.count++
		t.entries[i].IpProg = emptyIpProg()
	}

	t.lastUpdate = now
	t.changed = added

	e := &t.entries[i]
	e.IP = ip
	e.MAC = reply.MAC
	e.ShortName = reply.ShortName
	e.LongName = reply.LongName
	e.Status1 = reply.Status1
	e.Status2 = reply.Status2
	e.LastUpdate = now

	return added, nil
}

// ApplyIpProgReply は ArtIpProgReply の内容を、送信元の現在のアドレスに一致する
// エントリのアドレス設定にだけ反映する。Source が無効なら reply.IP で探す。
func (t *PollTable) ApplyIpProgReply(reply IpProgReply) error {
	ip := reply.Source.Unmap()
	if !ip.IsValid() {
		ip = reply.IP.Unmap()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOf(ip)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, ip)
	}
	t.entries[i].IpProg = IpProgRecord{
		IP:         reply.IP.Unmap(),
		SubnetMask: reply.SubnetMask.Unmap(),
		Status:     reply.Status,
	}
	return nil
}

// Entry は1始まりの index のエントリのコピーを返す。
// 0 や登録数を超える index では false を返す。
func (t *PollTable) Entry(index int) (NodeEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 1 || index > t.count {
		return NodeEntry{}, false
	}
	return t.entries[index-1], true
}

// Lookup は ip のエントリを返す
func (t *PollTable) Lookup(ip netip.Addr) (NodeEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if i := t.indexOf(ip.Unmap()); i >= 0 {
		return t.entries[i], true
	}
	return NodeEntry{}, false
}

// Len は登録されているノード数を返す
func (t *PollTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// IsChanged は直前の Add で新しいノードが追加されたかを返す
func (t *PollTable) IsChanged() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changed
}

// Entries は全エントリのコピーを登録順に返す
func (t *PollTable) Entries() []NodeEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]NodeEntry, t.count)
	copy(entries, t.entries[:t.count])
	return entries
}

// Dump はテーブルの内容を w に書き出し、変更フラグを下ろす。
// 経過秒数は最後の Add からの相対値。
func (t *PollTable) Dump(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprintf(w, "Entries : %d\n", t.count); err != nil {
		return err
	}
	for i := 0; i < t.count; i++ {
		e := t.entries[i]
		age := int(t.lastUpdate.Sub(e.LastUpdate) / time.Second)
		if _, err := fmt.Fprintf(w, "\t%s [%s] %s:%s:%x:%x:%d\n",
			e.IP, e.MACString(), e.ShortName, e.LongName, e.Status1, e.Status2, age); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "\t\t%s %s\n", e.IpProg.IP, e.IpProg.SubnetMask); err != nil {
			return err
		}
	}

	t.changed = false
	return nil
}
