// Package tap wraps a TAP network interface as a raw byte-frame source
// and sink, for cmd/tapbridge to ferry over a Tunnel. Grounded on the
// teacher's pkg/layer2.TAPDevice, stripped of Ethernet-frame parsing: a
// Tunnel's DataPacket carries opaque bytes (SPEC_FULL.md leaves payload
// semantics out of scope), so frames pass through unparsed.
package tap

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/songgao/water"
)

// Config configures a Device.
type Config struct {
	// Name requests a specific interface name on Linux; ignored on
	// platforms where the OS assigns one (macOS).
	Name string
	// MTU bounds the read buffer; 0 selects 1500.
	MTU int
}

// Device owns one TAP interface, exposing its frame stream as channels
// instead of a blocking Read/Write pair.
type Device struct {
	iface *water.Interface
	name  string
	mtu   int

	readChan  chan []byte
	writeChan chan []byte
	errorChan chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and configures a TAP interface. Requires elevated
// privileges on most platforms.
func New(cfg Config) (*Device, error) {
	if cfg.MTU == 0 {
		cfg.MTU = 1500
	}

	waterCfg := water.Config{DeviceType: water.TAP}
	if cfg.Name != "" {
		waterCfg.Name = cfg.Name
	}

	iface, err := water.New(waterCfg)
	if err != nil {
		return nil, fmt.Errorf("tap: creating interface: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Device{
		iface:     iface,
		name:      iface.Name(),
		mtu:       cfg.MTU,
		readChan:  make(chan []byte, 256),
		writeChan: make(chan []byte, 256),
		errorChan: make(chan error, 10),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the read and write pump goroutines.
func (d *Device) Start() {
	d.wg.Add(2)
	go d.readLoop()
	go d.writeLoop()
}

// Stop tears down the pumps and closes the interface.
func (d *Device) Stop() error {
	d.cancel()
	d.wg.Wait()
	err := d.iface.Close()
	close(d.readChan)
	close(d.writeChan)
	close(d.errorChan)
	return err
}

func (d *Device) readLoop() {
	defer d.wg.Done()
	buf := make([]byte, d.mtu+14)
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		n, err := d.iface.Read(buf)
		if err != nil {
			if err == io.EOF {
				return
			}
			d.reportError(fmt.Errorf("tap: read: %w", err))
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case d.readChan <- frame:
		case <-d.ctx.Done():
			return
		default:
			d.reportError(fmt.Errorf("tap: read channel full, dropping frame"))
		}
	}
}

func (d *Device) writeLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case frame := <-d.writeChan:
			if _, err := d.iface.Write(frame); err != nil {
				d.reportError(fmt.Errorf("tap: write: %w", err))
			}
		}
	}
}

func (d *Device) reportError(err error) {
	select {
	case d.errorChan <- err:
	default:
	}
}

// ReadChannel yields frames pulled off the TAP device, for forwarding
// into a Tunnel's Send.
func (d *Device) ReadChannel() <-chan []byte { return d.readChan }

// WriteChannel accepts frames received from a Tunnel's Recv, for writing
// back onto the TAP device.
func (d *Device) WriteChannel() chan<- []byte { return d.writeChan }

// ErrorChannel surfaces non-fatal read/write errors.
func (d *Device) ErrorChannel() <-chan error { return d.errorChan }

// Name reports the OS-assigned interface name.
func (d *Device) Name() string { return d.name }
