// Package backendtest provides an in-memory transcoder backend for tests.
//
// It stands in for the Basis Universal library: containers are a small
// fixed header (see Texture) followed by nothing, and "decoding" produces
// deterministic bytes of the size the real backend would emit. The format
// selection follows the real backend's policy table, so sessions, loaders
// and both environment kinds can be tested without native code or a
// compiled wasm backend.
package backendtest

import "encoding/binary"

// Magic opens every test container.
const Magic = "KTXT"

// BasisFormat is the supercompression family of the source texture.
type BasisFormat uint32

const (
	ETC1S      BasisFormat = 0
	UASTC4x4   BasisFormat = 1
	UASTCHDR   BasisFormat = 2
	ASTCHDR6x6 BasisFormat = 3
)

// Channel is the source channel layout read from the DFD.
type Channel uint32

const (
	ChannelRGB Channel = iota
	ChannelRGBA
	ChannelR
	ChannelRG
)

// Texture is the header of a test container.
type Texture struct {
	Basis   BasisFormat
	Channel Channel
	SRGB    bool
	Width   uint32
	Height  uint32
	Levels  uint32
	Layers  uint32
	Faces   uint32
	Seed    uint8
}

const headerSize = len(Magic) + 9*4

// Encode serializes tex into a test container.
func Encode(tex Texture) []byte {
	out := make([]byte, 0, headerSize)
	out = append(out, Magic...)
	var srgb uint32
	if tex.SRGB {
		srgb = 1
	}
	for _, v := range []uint32{
		uint32(tex.Basis), uint32(tex.Channel), srgb,
		tex.Width, tex.Height, tex.Levels, tex.Layers, tex.Faces, uint32(tex.Seed),
	} {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

// Decode parses a test container. It reports false for anything the real
// backend would fail to start transcoding.
func Decode(data []byte) (Texture, bool) {
	if len(data) < headerSize || string(data[:len(Magic)]) != Magic {
		return Texture{}, false
	}
	var f [9]uint32
	for i := range f {
		off := len(Magic) + i*4
		f[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}
	tex := Texture{
		Basis:   BasisFormat(f[0]),
		Channel: Channel(f[1]),
		SRGB:    f[2] != 0,
		Width:   f[3],
		Height:  f[4],
		Levels:  f[5],
		Layers:  f[6],
		Faces:   f[7],
		Seed:    uint8(f[8]),
	}
	if tex.Width == 0 || tex.Height == 0 || tex.Levels == 0 {
		return Texture{}, false
	}
	return tex, true
}
