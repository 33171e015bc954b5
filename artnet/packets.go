// Package artnet は Art-Net のノード探索とタイムコード送受信を扱う
package artnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"ltc-node/timecode"
)

// Port は Art-Net の UDP ポート
const Port = 6454

// ProtocolVersion は送信パケットに載せるプロトコルバージョン
const ProtocolVersion = 14

// OpCode は Art-Net パケットの種類
type OpCode uint16

const (
	OpPoll        OpCode = 0x2000
	OpPollReply   OpCode = 0x2100
	OpTimeCode    OpCode = 0x9700
	OpIpProg      OpCode = 0xF800
	OpIpProgReply OpCode = 0xF900
)

func (o OpCode) String() string {
	switch o {
	case OpPoll:
		return "OpPoll"
	case OpPollReply:
		return "OpPollReply"
	case OpTimeCode:
		return "OpTimeCode"
	case OpIpProg:
		return "OpIpProg"
	case OpIpProgReply:
		return "OpIpProgReply"
	}
	return fmt.Sprintf("OpCode(0x%04x)", uint16(o))
}

var (
	ErrShortPacket      = errors.New("artnet: packet too short")
	ErrNotArtNet        = errors.New("artnet: not an Art-Net packet")
	ErrUnexpectedOpCode = errors.New("artnet: unexpected opcode")
	ErrInvalidTimeCode  = errors.New("artnet: invalid timecode")
)

var packetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0}

const (
	headerLength = 10 // ID + OpCode

	pollLength           = 14
	pollReplyLength      = 239
	pollReplyMinLength   = 213 // Status2 まで
	ipProgLength         = 34
	ipProgReplyLength    = 34
	ipProgReplyMinLength = 27 // Status まで
	timeCodeLength       = 19

	ShortNameLength  = 18
	LongNameLength   = 64
	NodeReportLength = 64
)

// ArtIpProg のコマンドビット
const (
	IpProgCommandQuery      = 0x00
	IpProgCommandEnableProg = 0x80
	IpProgCommandProgIP     = 0x04
	IpProgCommandProgMask   = 0x02
)

// ReadOpCode はヘッダを検査して OpCode を返す
func ReadOpCode(packet []byte) (OpCode, error) {
	if len(packet) < headerLength {
		return 0, ErrShortPacket
	}
	if !bytes.Equal(packet[:8], packetID[:]) {
		return 0, ErrNotArtNet
	}
	return OpCode(binary.LittleEndian.Uint16(packet[8:10])), nil
}

func putHeader(buf []byte, op OpCode) {
	copy(buf, packetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], uint16(op))
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
}

func expect(packet []byte, op OpCode, minLength int) error {
	got, err := ReadOpCode(packet)
	if err != nil {
		return err
	}
	if got != op {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedOpCode, got, op)
	}
	if len(packet) < minLength {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPacket, op, minLength, len(packet))
	}
	return nil
}

// Poll は ArtPoll パケット
type Poll struct {
	Flags        byte
	DiagPriority byte
}

// Encode は ArtPoll を組み立てる
func (p Poll) Encode() []byte {
	buf := make([]byte, pollLength)
	putHeader(buf, OpPoll)
	buf[12] = p.Flags
	buf[13] = p.DiagPriority
	return buf
}

// DecodePoll は ArtPoll を解析する
func DecodePoll(packet []byte) (Poll, error) {
	if err := expect(packet, OpPoll, pollLength); err != nil {
		return Poll{}, err
	}
	return Poll{Flags: packet[12], DiagPriority: packet[13]}, nil
}

// PollReply は ArtPollReply パケットのうち探索テーブルで使う項目
type PollReply struct {
	IP          netip.Addr
	Port        uint16
	VersionInfo uint16
	Oem         uint16
	Status1     byte
	EstaMan     uint16
	ShortName   string
	LongName    string
	NodeReport  string
	Style       byte
	MAC         [6]byte
	Status2     byte
}

// Encode は ArtPollReply を組み立てる
func (r PollReply) Encode() []byte {
	buf := make([]byte, pollReplyLength)
	copy(buf, packetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], uint16(OpPollReply))
	if r.IP.Is4() {
		ip := r.IP.As4()
		copy(buf[10:14], ip[:])
	}
	binary.LittleEndian.PutUint16(buf[14:16], r.Port)
	binary.BigEndian.PutUint16(buf[16:18], r.VersionInfo)
	binary.BigEndian.PutUint16(buf[20:22], r.Oem)
	buf[23] = r.Status1
	binary.LittleEndian.PutUint16(buf[24:26], r.EstaMan)
	putString(buf[26:26+ShortNameLength], r.ShortName)
	putString(buf[44:44+LongNameLength], r.LongName)
	putString(buf[108:108+NodeReportLength], r.NodeReport)
	buf[200] = r.Style
	copy(buf[201:207], r.MAC[:])
	if r.IP.Is4() {
		ip := r.IP.As4()
		copy(buf[207:211], ip[:])
	}
	buf[211] = 1 // BindIndex
	buf[212] = r.Status2
	return buf
}

// DecodePollReply は ArtPollReply を解析する
func DecodePollReply(packet []byte) (PollReply, error) {
	if err := expect(packet, OpPollReply, pollReplyMinLength); err != nil {
		return PollReply{}, err
	}
	r := PollReply{
		IP:          netip.AddrFrom4([4]byte(packet[10:14])),
		Port:        binary.LittleEndian.Uint16(packet[14:16]),
		VersionInfo: binary.BigEndian.Uint16(packet[16:18]),
		Oem:         binary.BigEndian.Uint16(packet[20:22]),
		Status1:     packet[23],
		EstaMan:     binary.LittleEndian.Uint16(packet[24:26]),
		ShortName:   readString(packet[26 : 26+ShortNameLength]),
		LongName:    readString(packet[44 : 44+LongNameLength]),
		NodeReport:  readString(packet[108 : 108+NodeReportLength]),
		Style:       packet[200],
		Status2:     packet[212],
	}
	copy(r.MAC[:], packet[201:207])
	return r, nil
}

// IpProg は ArtIpProg パケット。Command が 0 なら問い合わせのみ。
type IpProg struct {
	Command    byte
	IP         netip.Addr
	SubnetMask netip.Addr
}

// Encode は ArtIpProg を組み立てる
func (p IpProg) Encode() []byte {
	buf := make([]byte, ipProgLength)
	putHeader(buf, OpIpProg)
	buf[14] = p.Command
	putAddr(buf[16:20], p.IP)
	putAddr(buf[20:24], p.SubnetMask)
	return buf
}

// DecodeIpProg は ArtIpProg を解析する
func DecodeIpProg(packet []byte) (IpProg, error) {
	if err := expect(packet, OpIpProg, 24); err != nil {
		return IpProg{}, err
	}
	return IpProg{
		Command:    packet[14],
		IP:         netip.AddrFrom4([4]byte(packet[16:20])),
		SubnetMask: netip.AddrFrom4([4]byte(packet[20:24])),
	}, nil
}

// IpProgReply は ArtIpProgReply パケット。
// Source は受信時の送信元アドレス（再設定前の現在のアドレス）で、ワイヤ上には無い。
type IpProgReply struct {
	Source     netip.Addr
	IP         netip.Addr
	SubnetMask netip.Addr
	Status     byte
}

// Encode は ArtIpProgReply を組み立てる
func (r IpProgReply) Encode() []byte {
	buf := make([]byte, ipProgReplyLength)
	putHeader(buf, OpIpProgReply)
	putAddr(buf[16:20], r.IP)
	putAddr(buf[20:24], r.SubnetMask)
	binary.BigEndian.PutUint16(buf[24:26], Port)
	buf[26] = r.Status
	return buf
}

// DecodeIpProgReply は ArtIpProgReply を解析する。Source は呼び出し側で設定する。
func DecodeIpProgReply(packet []byte) (IpProgReply, error) {
	if err := expect(packet, OpIpProgReply, ipProgReplyMinLength); err != nil {
		return IpProgReply{}, err
	}
	return IpProgReply{
		IP:         netip.AddrFrom4([4]byte(packet[16:20])),
		SubnetMask: netip.AddrFrom4([4]byte(packet[20:24])),
		Status:     packet[26],
	}, nil
}

// EncodeTimeCode は ArtTimeCode を組み立てる
func EncodeTimeCode(tc timecode.TimeCode) []byte {
	buf := make([]byte, timeCodeLength)
	putHeader(buf, OpTimeCode)
	buf[14] = tc.Frames
	buf[15] = tc.Seconds
	buf[16] = tc.Minutes
	buf[17] = tc.Hours
	buf[18] = byte(tc.Type)
	return buf
}

// DecodeTimeCode は ArtTimeCode を解析し、範囲外の値を拒否する
func DecodeTimeCode(packet []byte) (timecode.TimeCode, error) {
	if err := expect(packet, OpTimeCode, timeCodeLength); err != nil {
		return timecode.TimeCode{}, err
	}
	tc := timecode.TimeCode{
		Frames:  packet[14],
		Seconds: packet[15],
		Minutes: packet[16],
		Hours:   packet[17],
		Type:    timecode.Type(packet[18]),
	}
	if !tc.Valid() {
		return timecode.TimeCode{}, fmt.Errorf("%w: %02d:%02d:%02d:%02d type %d",
			ErrInvalidTimeCode, tc.Hours, tc.Minutes, tc.Seconds, tc.Frames, tc.Type)
	}
	return tc, nil
}

func putString(dst []byte, s string) {
	// 末尾に NUL を1つ残す
	n := copy(dst[:len(dst)-1], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func readString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}

func putAddr(dst []byte, addr netip.Addr) {
	if addr.Is4() {
		ip := addr.As4()
		copy(dst, ip[:])
	}
}
