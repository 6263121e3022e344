package transfer

import (
	pion "github.com/pion/webrtc/v4"
)

// Channel is an ordered, reliable message channel to the peer. Text frames
// carry metadata and binary frames carry file bytes.
type Channel interface {
	SendText(s string) error
	Send(data []byte) error
	BufferedAmount() uint64
	IsOpen() bool
}

// DataChannel adapts a pion data channel to Channel.
type DataChannel struct {
	dc *pion.DataChannel
}

func NewDataChannel(dc *pion.DataChannel) *DataChannel {
	return &DataChannel{dc: dc}
}

func (c *DataChannel) SendText(s string) error {
	return c.dc.SendText(s)
}

func (c *DataChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *DataChannel) BufferedAmount() uint64 {
	return c.dc.BufferedAmount()
}

func (c *DataChannel) IsOpen() bool {
	return c.dc.ReadyState() == pion.DataChannelStateOpen
}

func (c *DataChannel) Label() string {
	return c.dc.Label()
}
