package topology

import (
	"github.com/gogpu/gputypes"

	"github.com/wippyai/ktx2-transcoder/errors"
)

// Topology is the dimensional shape of a transcoded texture.
type Topology struct {
	View   gputypes.TextureViewDimension
	Extent gputypes.Extent3D
}

// Resolve derives the view dimension and extent from container counts.
//
//	faces=1 layers=0  2D
//	faces=6 layers=0  Cube
//	faces=1 layers>0  2DArray
//	faces=6 layers>0  CubeArray
//
// A layer count of zero means "not an array". Depth is max(layers,1)*faces.
// Any other face count is an invariant violation.
func Resolve(layers, faces, width, height uint32) (Topology, error) {
	var view gputypes.TextureViewDimension
	switch {
	case faces == 1 && layers == 0:
		view = gputypes.TextureViewDimension2D
	case faces == 6 && layers == 0:
		view = gputypes.TextureViewDimensionCube
	case faces == 1:
		view = gputypes.TextureViewDimension2DArray
	case faces == 6:
		view = gputypes.TextureViewDimensionCubeArray
	default:
		return Topology{}, errors.New(errors.PhaseTopology, errors.KindInvariantViolation).
			Value(faces).
			Detail("unsupported face count %d with %d layers", faces, layers).
			Build()
	}

	return Topology{
		View:   view,
		Extent: gputypes.NewExtent3D(width, height, max(layers, 1)*faces),
	}, nil
}

// ArrayLayers returns the number of 2D slices addressed by the view.
func (t Topology) ArrayLayers() uint32 {
	return t.Extent.DepthOrArrayLayers
}

// IsCube reports whether the view samples as a cube map.
func (t Topology) IsCube() bool {
	return t.View == gputypes.TextureViewDimensionCube || t.View == gputypes.TextureViewDimensionCubeArray
}
