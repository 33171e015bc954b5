package midi

import (
	"fmt"

	"go.bug.st/serial.v1"
)

// BaudRate は DIN MIDI の通信速度
const BaudRate = 31250

// OpenSerial は UART に繋いだ DIN MIDI 出力を開く
func OpenSerial(device string) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial MIDI %s: %w", device, err)
	}
	return port, nil
}

// SerialPorts は利用可能なシリアルポートの一覧
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
