package board

import "context"

// I2C represents a shareable I2C bus.
type I2C interface {
	// OpenHandle returns a handle scoped to one device address. It MUST be
	// closed when done; you cannot have two open for the same address.
	OpenHandle(addr byte) (I2CHandle, error)
}

// I2CHandle is similar to an io handle. It MUST be closed to release the bus.
type I2CHandle interface {
	Write(ctx context.Context, tx []byte) error
	Read(ctx context.Context, count int) ([]byte, error)

	ReadByteData(ctx context.Context, register byte) (byte, error)
	WriteByteData(ctx context.Context, register, data byte) error

	ReadWordData(ctx context.Context, register byte) (uint16, error)
	WriteWordData(ctx context.Context, register byte, data uint16) error

	// Close closes the handle and releases the lock on the bus.
	Close() error
}
