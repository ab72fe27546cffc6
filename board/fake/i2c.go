package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/sealab-robotics/rovd/board"
)

// I2C is a fake bus handing out a single shared handle.
type I2C struct {
	Handle *I2CHandle
}

// NewI2C returns a fake bus with an empty register map.
func NewI2C() *I2C {
	return &I2C{Handle: NewI2CHandle()}
}

// OpenHandle lets I2C implement board.I2C.
func (b *I2C) OpenHandle(addr byte) (board.I2CHandle, error) {
	b.Handle.addr = addr
	return b.Handle, nil
}

// I2CHandle is a fake device exposing byte and word registers.
type I2CHandle struct {
	mu       sync.Mutex
	addr     byte
	byteRegs map[byte]byte
	wordRegs map[byte]uint16
	closed   bool
}

// NewI2CHandle returns an empty fake handle.
func NewI2CHandle() *I2CHandle {
	return &I2CHandle{byteRegs: map[byte]byte{}, wordRegs: map[byte]uint16{}}
}

// Addr returns the device address the handle was opened with.
func (h *I2CHandle) Addr() byte { return h.addr }

// Closed reports whether Close was called.
func (h *I2CHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// SetWordReg scripts the value returned by word reads of the register.
func (h *I2CHandle) SetWordReg(register byte, value uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wordRegs[register] = value
}

// ByteReg returns the current value of a byte register.
func (h *I2CHandle) ByteReg(register byte) byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byteRegs[register]
}

// WordReg returns the current value of a word register.
func (h *I2CHandle) WordReg(register byte) uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.wordRegs[register]
}

// Write lets I2CHandle implement board.I2CHandle.
func (h *I2CHandle) Write(ctx context.Context, tx []byte) error {
	if len(tx) == 0 {
		return errors.New("empty write")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range tx[1:] {
		h.byteRegs[tx[0]+byte(i)] = b
	}
	return nil
}

// Read lets I2CHandle implement board.I2CHandle.
func (h *I2CHandle) Read(ctx context.Context, count int) ([]byte, error) {
	return make([]byte, count), nil
}

func (h *I2CHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byteRegs[register], nil
}

func (h *I2CHandle) WriteByteData(ctx context.Context, register, data byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byteRegs[register] = data
	return nil
}

func (h *I2CHandle) ReadWordData(ctx context.Context, register byte) (uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.wordRegs[register], nil
}

func (h *I2CHandle) WriteWordData(ctx context.Context, register byte, data uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wordRegs[register] = data
	return nil
}

// Close lets I2CHandle implement board.I2CHandle.
func (h *I2CHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
