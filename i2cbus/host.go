package i2cbus

import (
	"trellis-go/errcode"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// periph buses already speak the drivers.I2C transaction shape.
var _ drivers.I2C = i2c.Bus(nil)

// OpenHost initialises the host drivers and opens the named I2C bus
// ("" picks the first one). A non-zero speed is applied before returning.
func OpenHost(name string, speed physic.Frequency) (i2c.BusCloser, error) {
	const op = "i2cbus.OpenHost"
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap(errcode.Communication, op, err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, errcode.Wrap(errcode.Configuration, op, err)
	}
	if speed > 0 {
		if err := b.SetSpeed(speed); err != nil {
			_ = b.Close()
			return nil, errcode.Wrap(errcode.Configuration, op, err)
		}
	}
	return b, nil
}
