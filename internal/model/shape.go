package model

import (
	"fmt"
	"math"
)

// ResolveInput turns the engine's input dimensions into an InputSpec.
//
// Rank 3 is read as [channels, width, height]. Rank 4 is NHWC when the
// last axis holds 1 or 3 channels, NCHW when the second does. Rank 2 is
// [batch, pixels] over a square image. Dynamic axes are filled from meta
// when it describes them.
func ResolveInput(dims Shape, meta *Metadata) (InputSpec, error) {
	var metaShape []int64
	if meta != nil {
		metaShape = meta.InputShape
	}
	d := fillDynamic(dims, metaShape)

	var spec InputSpec
	switch len(d) {
	case 2:
		var side int64
		if d[1] > 0 {
			side = int64(math.Sqrt(float64(d[1])))
		}
		if d[1] > 0 && side*side != d[1] {
			return InputSpec{}, fmt.Errorf("input %v: %d pixels is not a square image", dims, d[1])
		}
		spec = InputSpec{Channels: 1, Width: int(side), Height: int(side)}
	case 3:
		spec = InputSpec{Channels: int(d[0]), Width: int(d[1]), Height: int(d[2])}
	case 4:
		switch {
		case d[3] == 1 || d[3] == 3:
			spec = InputSpec{Channels: int(d[3]), Height: int(d[1]), Width: int(d[2])}
		case d[1] == 1 || d[1] == 3:
			spec = InputSpec{Channels: int(d[1]), Height: int(d[2]), Width: int(d[3]), Layout: LayoutPlanar}
		default:
			return InputSpec{}, fmt.Errorf("input %v: cannot find a channel axis", dims)
		}
	default:
		return InputSpec{}, fmt.Errorf("input %v: unsupported rank %d", dims, len(d))
	}

	if meta != nil && meta.ImageSize > 0 {
		if spec.Width <= 0 {
			spec.Width = meta.ImageSize
		}
		if spec.Height <= 0 {
			spec.Height = meta.ImageSize
		}
	}
	if spec.Channels <= 0 || spec.Width <= 0 || spec.Height <= 0 {
		return InputSpec{}, fmt.Errorf("input %v: unresolved dimensions %s", dims, spec)
	}
	return spec, nil
}

// ResolveClasses returns the class count from the output's last axis.
func ResolveClasses(dims Shape, meta *Metadata) (int, error) {
	var classes int64
	if len(dims) > 0 {
		classes = dims[len(dims)-1]
	}
	if classes <= 0 && meta != nil {
		if n := len(meta.OutputShape); n > 0 && meta.OutputShape[n-1] > 0 {
			classes = meta.OutputShape[n-1]
		} else {
			classes = int64(len(meta.Classes))
		}
	}
	if classes <= 0 {
		return 0, fmt.Errorf("output %v: unresolved class count", dims)
	}
	return int(classes), nil
}

// Concrete replaces dynamic axes so the shape holds exactly n values.
// A dynamic leading axis becomes 1; one other dynamic axis absorbs the rest.
func Concrete(dims Shape, n int) (Shape, error) {
	out := make(Shape, len(dims))
	copy(out, dims)

	known := int64(1)
	free := -1
	for i, d := range out {
		if d <= 0 {
			if i == 0 {
				out[i] = 1
				continue
			}
			if free >= 0 {
				return nil, fmt.Errorf("shape %v has more than one dynamic axis", dims)
			}
			free = i
			continue
		}
		known *= d
	}

	if free >= 0 {
		if known == 0 || int64(n)%known != 0 {
			return nil, fmt.Errorf("%d values do not fit shape %v", n, dims)
		}
		out[free] = int64(n) / known
		return out, nil
	}
	if known != int64(n) {
		return nil, fmt.Errorf("%d values do not fit shape %v", n, dims)
	}
	return out, nil
}

func fillDynamic(dims Shape, metaShape []int64) Shape {
	d := make(Shape, len(dims))
	copy(d, dims)
	for i := range d {
		if d[i] > 0 {
			continue
		}
		if len(metaShape) == len(d) && metaShape[i] > 0 {
			d[i] = metaShape[i]
		} else if i == 0 {
			d[i] = 1
		}
	}
	return d
}
