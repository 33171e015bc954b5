package protocol

import (
	"ltc-node/artnet"
	"ltc-node/timecode"
)

// TimeCodeToProtocol converts a timecode value
func TimeCodeToProtocol(tc timecode.TimeCode) TimeCode {
	return TimeCode{
		Text:    timecode.FormatText(tc).String(),
		Hours:   tc.Hours,
		Minutes: tc.Minutes,
		Seconds: tc.Seconds,
		Frames:  tc.Frames,
		Type:    tc.Type.String(),
	}
}

// TypeToProtocol converts a type change
func TypeToProtocol(t timecode.Type) TypePayload {
	return TypePayload{
		Type:        t.String(),
		FPS:         t.FPS(),
		LimitMicros: t.LimitMicros(),
	}
}

// StatusToProtocol converts a reader status snapshot
func StatusToProtocol(s timecode.Status, nodes int) StatusPayload {
	p := StatusPayload{
		Mode:             s.Mode.String(),
		UpdatesPerSecond: s.UpdatesPerSecond,
		LimitMicros:      s.LimitMicros,
		Disabled:         s.Disabled,
		Outputs:          make([]OutputStats, 0, len(s.Sinks)),
		Nodes:            nodes,
	}
	if p.Disabled == nil {
		p.Disabled = []string{}
	}
	if s.HasTimeCode {
		tc := TimeCodeToProtocol(s.TimeCode)
		p.TimeCode = &tc
	}
	for _, st := range s.Sinks {
		p.Outputs = append(p.Outputs, OutputStats{
			Output:    st.Output.String(),
			Delivered: st.Delivered,
			Failed:    st.Failed,
		})
	}
	return p
}

// NodeToProtocol converts a poll table entry. index is 1-based.
func NodeToProtocol(index int, e artnet.NodeEntry) Node {
	return Node{
		Index:          index,
		IP:             e.IP.String(),
		MAC:            e.MACString(),
		ShortName:      e.ShortName,
		LongName:       e.LongName,
		Status1:        e.Status1,
		Status2:        e.Status2,
		LastUpdate:     e.LastUpdate,
		ProgIP:         e.IpProg.IP.String(),
		ProgSubnetMask: e.IpProg.SubnetMask.String(),
		ProgStatus:     e.IpProg.Status,
	}
}

// NodesToProtocol converts all entries in table order
func NodesToProtocol(entries []artnet.NodeEntry) NodesPayload {
	nodes := make([]Node, 0, len(entries))
	for i, e := range entries {
		nodes = append(nodes, NodeToProtocol(i+1, e))
	}
	return NodesPayload{Nodes: nodes}
}
