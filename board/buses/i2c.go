// Package buses implements the board I2C interface for Linux hosts on top of
// the /dev/i2c-N character devices.
package buses

import (
	"context"

	"github.com/d2r2/go-i2c"
	"github.com/pkg/errors"

	"github.com/sealab-robotics/rovd/board"
)

type i2cBus struct {
	number int
}

// NewI2CBus returns an I2C bus for /dev/i2c-<number>.
func NewI2CBus(number int) board.I2C {
	return &i2cBus{number: number}
}

// OpenHandle lets i2cBus implement the board.I2C interface.
func (bus *i2cBus) OpenHandle(addr byte) (board.I2CHandle, error) {
	handle, err := i2c.NewI2C(addr, bus.number)
	if err != nil {
		return nil, errors.Wrapf(err, "opening i2c-%d handle for address 0x%x", bus.number, addr)
	}
	return &i2cHandle{internal: handle}, nil
}

// i2cHandle wraps the non-local i2c.I2C struct so it conforms to the
// board.I2CHandle interface.
type i2cHandle struct {
	internal *i2c.I2C
}

func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	bytesWritten, err := h.internal.WriteBytes(tx)
	if err != nil {
		return err
	}
	if bytesWritten != len(tx) {
		return errors.Errorf("not all bytes written to i2c address 0x%x on bus %d: had %d, wrote %d",
			h.internal.GetAddr(), h.internal.GetBus(), len(tx), bytesWritten)
	}
	return nil
}

func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	buffer := make([]byte, count)
	bytesRead, err := h.internal.ReadBytes(buffer)
	if err != nil {
		return nil, err
	}
	if bytesRead != count {
		return nil, errors.Errorf("not enough bytes read from i2c address 0x%x on bus %d: needed %d, got %d",
			h.internal.GetAddr(), h.internal.GetBus(), count, bytesRead)
	}
	return buffer, nil
}

func (h *i2cHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	return h.internal.ReadRegU8(register)
}

func (h *i2cHandle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.internal.WriteRegU8(register, data)
}

func (h *i2cHandle) ReadWordData(ctx context.Context, register byte) (uint16, error) {
	return h.internal.ReadRegU16BE(register)
}

func (h *i2cHandle) WriteWordData(ctx context.Context, register byte, data uint16) error {
	return h.internal.WriteRegU16BE(register, data)
}

func (h *i2cHandle) Close() error {
	return h.internal.Close()
}
