package usbio

import (
	"fmt"
	"time"

	"github.com/google/gousb"
)

// DefaultTimeout bounds a single WriteRead round trip against a real probe.
const DefaultTimeout = 5 * time.Second

// Client is a host-side CMSIS-DAP USB client used by cmd/dapctl probe and
// chain to exercise a real device for differential testing against the in-process
// dispatcher; it is not part of the firmware's own USB device stack.
type Client struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration
}

// OpenClient opens the first CMSIS-DAP device matching vid:pid, claims its
// vendor interface, and resolves its bulk endpoints.
func OpenClient(vid, pid uint16) (*Client, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbio: open device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbio: device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}
	_ = dev.SetAutoDetach(true)

	c := &Client{ctx: ctx, dev: dev, packetSize: dap64DefaultPacketSize, timeout: DefaultTimeout}
	if err := c.claimInterface(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return c, nil
}

const dap64DefaultPacketSize = 64

func (c *Client) claimInterface() error {
	cfg, err := c.dev.Config(1)
	if err != nil {
		return fmt.Errorf("usbio: get config: %w", err)
	}

	vendorIntfNum := -1
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			vendorIntfNum = intf.Number
			break
		}
	}
	if vendorIntfNum == -1 {
		vendorIntfNum = 0
	}

	intf, err := cfg.Interface(vendorIntfNum, 0)
	if err != nil {
		return fmt.Errorf("usbio: claim interface %d: %w", vendorIntfNum, err)
	}
	c.intf = intf

	if err := c.findEndpoints(); err != nil {
		intf.Close()
		return err
	}
	return nil
}

func (c *Client) findEndpoints() error {
	setting := c.intf.Setting

	var outAddr, inAddr int
	for _, ep := range setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outAddr == 0 {
				outAddr = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inAddr == 0 {
				inAddr = ep.Number
				c.packetSize = ep.MaxPacketSize
			}
		}
	}
	if outAddr == 0 {
		return fmt.Errorf("usbio: bulk OUT endpoint not found")
	}
	if inAddr == 0 {
		return fmt.Errorf("usbio: bulk IN endpoint not found")
	}

	epOut, err := c.intf.OutEndpoint(outAddr)
	if err != nil {
		return fmt.Errorf("usbio: open OUT endpoint: %w", err)
	}
	c.epOut = epOut

	epIn, err := c.intf.InEndpoint(inAddr)
	if err != nil {
		return fmt.Errorf("usbio: open IN endpoint: %w", err)
	}
	c.epIn = epIn
	return nil
}

// WriteRead sends one CMSIS-DAP command packet and returns the matching
// response packet, padding the outbound packet with zeros to the endpoint's
// max packet size.
func (c *Client) WriteRead(cmd []byte) ([]byte, error) {
	packet := make([]byte, c.packetSize)
	copy(packet, cmd)
	if _, err := c.epOut.Write(packet); err != nil {
		return nil, fmt.Errorf("usbio: write: %w", err)
	}

	resp := make([]byte, c.packetSize)
	n, err := c.epIn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("usbio: read: %w", err)
	}
	return resp[:n], nil
}

// PacketSize returns the negotiated bulk endpoint packet size.
func (c *Client) PacketSize() int { return c.packetSize }

// Close releases the USB interface, device, and context.
func (c *Client) Close() error {
	if c.intf != nil {
		c.intf.Close()
		c.intf = nil
	}
	if c.dev != nil {
		c.dev.Close()
		c.dev = nil
	}
	if c.ctx != nil {
		c.ctx.Close()
		c.ctx = nil
	}
	return nil
}
