package profiler

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/warptile/warptile"
)

// DeviceContext owns the device tensors of one profiled problem, seeded
// reproducibly so verification failures can be replayed.
type DeviceContext struct {
	Shape warptile.ProblemShape

	A, B, C, D warptile.DevicePtr
	Bias       warptile.DevicePtr
}

// NewDeviceContext allocates and seeds the tensors for shape. C is filled
// whenever beta might read it; Bias is allocated only when withBias is set.
func NewDeviceContext(shape warptile.ProblemShape, seed int64, withBias bool) (*DeviceContext, error) {
	ctx := &DeviceContext{Shape: shape}
	rng := rand.New(rand.NewSource(seed))
	l := shape.Batches()

	var err error
	if ctx.A, err = allocFilled(shape.M*shape.K*l, rng); err != nil {
		ctx.Free()
		return nil, errors.Wrap(err, "allocating A")
	}
	if ctx.B, err = allocFilled(shape.K*shape.N*l, rng); err != nil {
		ctx.Free()
		return nil, errors.Wrap(err, "allocating B")
	}
	if ctx.C, err = allocFilled(shape.M*shape.N*l, rng); err != nil {
		ctx.Free()
		return nil, errors.Wrap(err, "allocating C")
	}
	if ctx.D, err = warptile.Malloc(shape.M * shape.N * l * 4); err != nil {
		ctx.Free()
		return nil, errors.Wrap(err, "allocating D")
	}
	if withBias {
		if ctx.Bias, err = allocFilled(shape.N, rng); err != nil {
			ctx.Free()
			return nil, errors.Wrap(err, "allocating bias")
		}
	}
	ctx.ResetD()
	return ctx, nil
}

func allocFilled(elems int, rng *rand.Rand) (warptile.DevicePtr, error) {
	d, err := warptile.Malloc(elems * 4)
	if err != nil {
		return warptile.DevicePtr{}, err
	}
	buf := d.Float32()
	for i := range buf {
		buf[i] = rng.Float32()*2 - 1
	}
	return d, nil
}

// ResetD zeroes the output tensor between timed iterations.
func (ctx *DeviceContext) ResetD() {
	buf := ctx.D.Float32()
	for i := range buf {
		buf[i] = 0
	}
}

// Free releases every allocated tensor. Safe on partially built contexts.
func (ctx *DeviceContext) Free() {
	for _, d := range []warptile.DevicePtr{ctx.A, ctx.B, ctx.C, ctx.D, ctx.Bias} {
		if !d.IsNil() {
			warptile.Free(d)
		}
	}
	*ctx = DeviceContext{Shape: ctx.Shape}
}
