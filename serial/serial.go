package serial

import (
	"errors"
	"io"

	"github.com/jacobsa/go-serial/serial"

	"github.com/ftl/sms-telemetry/com"
)

var (
	NoModemFound = errors.New("no GSM modem found")
)

// DefaultBaudRate is used when no baud rate is configured.
const DefaultBaudRate = 115200

// Open the modem at the given port and return a COM instance to talk to it.
func Open(portName string, baudRate int) (*com.COM, io.Closer, error) {
	device, err := openSerial(portName, baudRate)
	if err != nil {
		return nil, nil, err
	}

	return com.New(device), device, nil
}

// OpenWithTrace works like Open, but all communication with the modem is traced to the given writer.
func OpenWithTrace(portName string, baudRate int, traceWriter io.Writer) (*com.COM, io.Closer, error) {
	device, err := openSerial(portName, baudRate)
	if err != nil {
		return nil, nil, err
	}

	return com.NewWithTrace(device, traceWriter), device, nil
}

func openSerial(portName string, baudRate int) (io.ReadWriteCloser, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	portConfig := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		RTSCTSFlowControl:     false,
		MinimumReadSize:       1,
		InterCharacterTimeout: 100,
	}

	return serial.Open(portConfig)
}
