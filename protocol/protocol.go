package protocol

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of message being sent between client and server
type MessageType string

const (
	// Server -> Client message types
	MessageTypeTimeCode          MessageType = "timecode"
	MessageTypeType              MessageType = "type"
	MessageTypeSignalLost        MessageType = "signal_lost"
	MessageTypeStatus            MessageType = "status"
	MessageTypeNodes             MessageType = "nodes"
	MessageTypeErrorNotification MessageType = "error_notification"
	MessageTypeCommandResult     MessageType = "command_result"

	// Client -> Server message types
	MessageTypeGetStatus MessageType = "get_status"
	MessageTypeGetNodes  MessageType = "get_nodes"
	MessageTypeSetOutput MessageType = "set_output"
	MessageTypePoll      MessageType = "poll"
)

// ErrorCode defines error codes for error messages
type ErrorCode string

// Client Request Related
const (
	ErrorCodeInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrorCodeInvalidParameters    ErrorCode = "INVALID_PARAMETERS"
	ErrorCodeUnavailable          ErrorCode = "UNAVAILABLE"
)

// Server Related
const (
	ErrorCodeInternalServerError ErrorCode = "INTERNAL_SERVER_ERROR"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Error represents an error in the WebSocket protocol
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// TimeCode はタイムコード1つ分
type TimeCode struct {
	Text    string `json:"text"`
	Hours   uint8  `json:"hours"`
	Minutes uint8  `json:"minutes"`
	Seconds uint8  `json:"seconds"`
	Frames  uint8  `json:"frames"`
	Type    string `json:"type"`
}

// TypePayload は種別変更の通知
type TypePayload struct {
	Type        string `json:"type"`
	FPS         uint32 `json:"fps"`
	LimitMicros uint32 `json:"limitMicros"`
}

// OutputStats は出力先ごとの配信数
type OutputStats struct {
	Output    string `json:"output"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// StatusPayload は Reader の状態
type StatusPayload struct {
	TimeCode         *TimeCode     `json:"timecode,omitempty"`
	Mode             string        `json:"mode"`
	UpdatesPerSecond uint32        `json:"updatesPerSecond"`
	LimitMicros      uint32        `json:"limitMicros"`
	Disabled         []string      `json:"disabled"`
	Outputs          []OutputStats `json:"outputs"`
	Nodes            int           `json:"nodes"`
}

// Node は Art-Net ノード探索テーブルの1エントリ
type Node struct {
	Index          int       `json:"index"`
	IP             string    `json:"ip"`
	MAC            string    `json:"mac"`
	ShortName      string    `json:"shortName"`
	LongName       string    `json:"longName"`
	Status1        uint8     `json:"status1"`
	Status2        uint8     `json:"status2"`
	LastUpdate     time.Time `json:"lastUpdate"`
	ProgIP         string    `json:"progIp"`
	ProgSubnetMask string    `json:"progSubnetMask"`
	ProgStatus     uint8     `json:"progStatus"`
}

// NodesPayload はノード一覧
type NodesPayload struct {
	Nodes []Node `json:"nodes"`
}

// ErrorNotificationPayload is the payload for error_notification messages
type ErrorNotificationPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// CommandResultPayload is the payload for command_result messages
type CommandResultPayload struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error,omitempty"`
}

// SetOutputPayload は出力先の有効・無効を切り替える要求
type SetOutputPayload struct {
	Output  string `json:"output"`
	Enabled bool   `json:"enabled"`
}

// CreateMessage creates a JSON message with the given type and payload
func CreateMessage(msgType MessageType, payload interface{}, requestID string) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg := Message{
		Type:      msgType,
		Payload:   payloadBytes,
		RequestID: requestID,
	}

	return json.Marshal(msg)
}

// ParseMessage parses a JSON message into a Message struct
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParsePayload parses the payload of a message into the given struct
func ParsePayload(msg *Message, payload interface{}) error {
	return json.Unmarshal(msg.Payload, payload)
}
