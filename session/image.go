package session

import (
	"github.com/gogpu/gputypes"

	"github.com/wippyai/ktx2-transcoder/errors"
	"github.com/wippyai/ktx2-transcoder/format"
	"github.com/wippyai/ktx2-transcoder/topology"
)

// Image is a transcoded texture ready for upload. It owns its pixel
// buffer and is immutable.
type Image struct {
	pixels    []byte
	gpuFormat gputypes.TextureFormat
	encoding  format.Encoding
	code      format.Code
	srgb      bool
	width     uint32
	height    uint32
	levels    uint32
	layers    uint32
	faces     uint32
	topology  topology.Topology
}

// Pixels returns every subresource, levels outermost, then layers, then faces.
func (i *Image) Pixels() []byte                 { return i.pixels }
func (i *Image) Format() gputypes.TextureFormat { return i.gpuFormat }
func (i *Image) Encoding() format.Encoding      { return i.encoding }
func (i *Image) Code() format.Code              { return i.code }
func (i *Image) IsSRGB() bool                   { return i.srgb }
func (i *Image) Width() uint32                  { return i.width }
func (i *Image) Height() uint32                 { return i.height }
func (i *Image) Levels() uint32                 { return i.levels }
func (i *Image) Layers() uint32                 { return i.layers }
func (i *Image) Faces() uint32                  { return i.faces }
func (i *Image) Topology() topology.Topology    { return i.topology }

// LevelExtent returns the texel size of a mip level.
func (i *Image) LevelExtent(level uint32) (width, height uint32) {
	return max(i.width>>level, 1), max(i.height>>level, 1)
}

// Subresource returns the bytes of one level, layer and face.
func (i *Image) Subresource(level, layer, face uint32) ([]byte, error) {
	slices := i.topology.ArrayLayers()
	if level >= i.levels || layer >= max(i.layers, 1) || face >= i.faces {
		return nil, errors.New(errors.PhaseSession, errors.KindOutOfBounds).
			Detail("subresource level=%d layer=%d face=%d of %d/%d/%d",
				level, layer, face, i.levels, max(i.layers, 1), i.faces).
			Build()
	}

	var offset uint64
	for l := uint32(0); l < level; l++ {
		w, h := i.LevelExtent(l)
		offset += i.encoding.BytesFor(w, h) * uint64(slices)
	}
	w, h := i.LevelExtent(level)
	size := i.encoding.BytesFor(w, h)
	offset += size * uint64(layer*i.faces+face)

	if offset+size > uint64(len(i.pixels)) {
		return nil, errors.InvariantViolation(errors.PhaseSession, len(i.pixels),
			"pixel buffer shorter than its metadata")
	}
	return i.pixels[offset : offset+size], nil
}
