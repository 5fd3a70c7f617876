package format

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/wippyai/ktx2-transcoder/errors"
)

// Code is the backend's output format enumeration.
type Code uint32

const (
	ETC1RGB        Code = 0
	ETC2RGBA       Code = 1
	BC1RGB         Code = 2
	BC3RGBA        Code = 3
	BC4R           Code = 4
	BC5RG          Code = 5
	BC7RGBA        Code = 6
	BC7Alt         Code = 7
	PVRTC14RGB     Code = 8
	PVRTC14RGBA    Code = 9
	ASTC4x4RGBA    Code = 10
	ATCRGB         Code = 11
	ATCRGBA        Code = 12
	RGBA32         Code = 13
	RGB565         Code = 14
	BGR565         Code = 15
	RGBA4444       Code = 16
	FXT1RGB        Code = 17
	PVRTC24RGB     Code = 18
	PVRTC24RGBA    Code = 19
	ETC2EACR11     Code = 20
	ETC2EACRG11    Code = 21
	BC6H           Code = 22
	ASTCHDR4x4RGBA Code = 23
	RGBHalf        Code = 24
	RGBAHalf       Code = 25
	RGB9E5         Code = 26
	ASTCHDR6x6RGBA Code = 27

	numCodes = 28
)

var codeNames = [numCodes]string{
	"ETC1_RGB", "ETC2_RGBA", "BC1_RGB", "BC3_RGBA", "BC4_R", "BC5_RG", "BC7_RGBA", "BC7_ALT",
	"PVRTC1_4_RGB", "PVRTC1_4_RGBA", "ASTC_4x4_RGBA", "ATC_RGB", "ATC_RGBA", "RGBA32",
	"RGB565", "BGR565", "RGBA4444", "FXT1_RGB", "PVRTC2_4_RGB", "PVRTC2_4_RGBA",
	"ETC2_EAC_R11", "ETC2_EAC_RG11", "BC6H", "ASTC_HDR_4x4_RGBA", "RGB_HALF", "RGBA_HALF",
	"RGB_9E5", "ASTC_HDR_6x6_RGBA",
}

func (c Code) String() string {
	if c < numCodes {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Channel is how block texels are interpreted.
type Channel uint8

const (
	ChannelUnorm Channel = iota
	ChannelFloat
	ChannelHDR
)

func (c Channel) String() string {
	switch c {
	case ChannelUnorm:
		return "unorm"
	case ChannelFloat:
		return "float"
	case ChannelHDR:
		return "hdr"
	default:
		return "unknown"
	}
}

// Encoding is the memory layout of one format. Uncompressed formats use
// 1x1 blocks.
type Encoding struct {
	BlockWidth  uint32
	BlockHeight uint32
	BlockBytes  uint32
	Channel     Channel
}

// Compressed reports whether texels are stored in multi-texel blocks.
func (e Encoding) Compressed() bool {
	return e.BlockWidth > 1 || e.BlockHeight > 1
}

// BytesFor returns the storage size of one w x h image.
func (e Encoding) BytesFor(w, h uint32) uint64 {
	if e.BlockWidth == 0 || e.BlockHeight == 0 {
		return 0
	}
	bw := uint64((w + e.BlockWidth - 1) / e.BlockWidth)
	bh := uint64((h + e.BlockHeight - 1) / e.BlockHeight)
	return bw * bh * uint64(e.BlockBytes)
}

// Aligned reports whether w and h are multiples of the block size.
func (e Encoding) Aligned(w, h uint32) bool {
	return e.BlockWidth != 0 && e.BlockHeight != 0 &&
		w%e.BlockWidth == 0 && h%e.BlockHeight == 0
}

// Target is the GPU format a backend code resolves to.
type Target struct {
	Format   gputypes.TextureFormat
	Encoding Encoding
}

type mapping struct {
	linear gputypes.TextureFormat
	srgb   gputypes.TextureFormat // Undefined when the format has no sRGB twin
	enc    Encoding
}

var (
	block4x4x8  = Encoding{BlockWidth: 4, BlockHeight: 4, BlockBytes: 8}
	block4x4x16 = Encoding{BlockWidth: 4, BlockHeight: 4, BlockBytes: 16}
)

// table covers every code the backend selects for some capability mask.
// ETC1 blocks decode as ETC2 RGB8, so the ETC1 code maps onto that format.
// WebGPU has no HDR ASTC enum; HDR ASTC keeps the block format and is marked
// by the channel. Callers building GPU descriptors must check the channel.
var table = map[Code]mapping{
	ETC1RGB:     {gputypes.TextureFormatETC2RGB8Unorm, gputypes.TextureFormatETC2RGB8UnormSrgb, block4x4x8},
	ETC2RGBA:    {gputypes.TextureFormatETC2RGBA8Unorm, gputypes.TextureFormatETC2RGBA8UnormSrgb, block4x4x16},
	BC1RGB:      {gputypes.TextureFormatBC1RGBAUnorm, gputypes.TextureFormatBC1RGBAUnormSrgb, block4x4x8},
	BC3RGBA:     {gputypes.TextureFormatBC3RGBAUnorm, gputypes.TextureFormatBC3RGBAUnormSrgb, block4x4x16},
	BC4R:        {gputypes.TextureFormatBC4RUnorm, gputypes.TextureFormatUndefined, block4x4x8},
	BC5RG:       {gputypes.TextureFormatBC5RGUnorm, gputypes.TextureFormatUndefined, block4x4x16},
	BC7RGBA:     {gputypes.TextureFormatBC7RGBAUnorm, gputypes.TextureFormatBC7RGBAUnormSrgb, block4x4x16},
	ASTC4x4RGBA: {gputypes.TextureFormatASTC4x4Unorm, gputypes.TextureFormatASTC4x4UnormSrgb, block4x4x16},
	ETC2EACR11:  {gputypes.TextureFormatEACR11Unorm, gputypes.TextureFormatUndefined, block4x4x8},
	ETC2EACRG11: {gputypes.TextureFormatEACRG11Unorm, gputypes.TextureFormatUndefined, block4x4x16},
	BC6H: {
		gputypes.TextureFormatBC6HRGBUfloat, gputypes.TextureFormatUndefined,
		Encoding{BlockWidth: 4, BlockHeight: 4, BlockBytes: 16, Channel: ChannelFloat},
	},
	ASTCHDR4x4RGBA: {
		gputypes.TextureFormatASTC4x4Unorm, gputypes.TextureFormatUndefined,
		Encoding{BlockWidth: 4, BlockHeight: 4, BlockBytes: 16, Channel: ChannelHDR},
	},
	ASTCHDR6x6RGBA: {
		gputypes.TextureFormatASTC6x6Unorm, gputypes.TextureFormatUndefined,
		Encoding{BlockWidth: 6, BlockHeight: 6, BlockBytes: 16, Channel: ChannelHDR},
	},
	RGBA32: {
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		Encoding{BlockWidth: 1, BlockHeight: 1, BlockBytes: 4},
	},
	RGBAHalf: {
		gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatUndefined,
		Encoding{BlockWidth: 1, BlockHeight: 1, BlockBytes: 8, Channel: ChannelFloat},
	},
	RGB9E5: {
		gputypes.TextureFormatRGB9E5Ufloat, gputypes.TextureFormatUndefined,
		Encoding{BlockWidth: 1, BlockHeight: 1, BlockBytes: 4, Channel: ChannelFloat},
	},
}

// Map resolves a backend output code to a GPU format. When srgb is set and
// the format has an sRGB twin, the twin is returned; the encoding is the
// same either way. Codes outside the table are never requested by any
// capability mask, so seeing one means the backend and this table disagree.
func Map(code Code, srgb bool) (Target, error) {
	m, ok := table[code]
	if !ok {
		return Target{}, errors.New(errors.PhaseMap, errors.KindInvariantViolation).
			Value(code).
			Detail("backend format %s has no GPU mapping", code).
			Build()
	}

	f := m.linear
	if srgb && m.srgb != gputypes.TextureFormatUndefined {
		f = m.srgb
	}
	return Target{Format: f, Encoding: m.enc}, nil
}

// Covered reports whether Map accepts code.
func Covered(code Code) bool {
	_, ok := table[code]
	return ok
}

// Codes returns every covered code in ascending order.
func Codes() []Code {
	out := make([]Code, 0, len(table))
	for c := Code(0); c < numCodes; c++ {
		if _, ok := table[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
