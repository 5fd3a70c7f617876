package backendtest

// Capability bits as the backend reads them.
const (
	MaskASTCLDR uint8 = 1 << iota
	MaskASTCHDR
	MaskBC
	MaskETC2
)

// Output codes the policy selects, numbered as the backend numbers them.
const (
	codeETC1RGB     uint32 = 0
	codeETC2RGBA    uint32 = 1
	codeBC4R        uint32 = 4
	codeBC5RG       uint32 = 5
	codeBC7RGBA     uint32 = 6
	codeASTC4x4     uint32 = 10
	codeRGBA32      uint32 = 13
	codeEACR11      uint32 = 20
	codeEACRG11     uint32 = 21
	codeBC6H        uint32 = 22
	codeASTCHDR4x4  uint32 = 23
	codeRGBAHalf    uint32 = 25
	codeASTCHDR6x6  uint32 = 27
	codeUnsupported uint32 = 28
)

// Select returns the output code the backend picks for a source texture
// under mask.
func Select(basis BasisFormat, ch Channel, mask uint8) uint32 {
	switch basis {
	case UASTCHDR:
		switch {
		case mask&MaskASTCHDR != 0:
			return codeASTCHDR4x4
		case mask&MaskBC != 0:
			return codeBC6H
		default:
			return codeRGBAHalf
		}
	case ASTCHDR6x6:
		switch {
		case mask&MaskASTCHDR != 0:
			return codeASTCHDR6x6
		case mask&MaskBC != 0:
			return codeBC6H
		default:
			return codeRGBAHalf
		}
	case UASTC4x4:
		switch {
		case mask&MaskASTCLDR != 0:
			return codeASTC4x4
		case mask&MaskBC != 0:
			return codeBC7RGBA
		case mask&MaskETC2 != 0:
			return etc2For(ch)
		default:
			return codeRGBA32
		}
	case ETC1S:
		switch {
		case mask&MaskBC != 0:
			switch ch {
			case ChannelR:
				return codeBC4R
			case ChannelRG:
				return codeBC5RG
			default:
				return codeBC7RGBA
			}
		case mask&MaskETC2 != 0:
			return etc2For(ch)
		default:
			return codeRGBA32
		}
	default:
		return codeUnsupported
	}
}

func etc2For(ch Channel) uint32 {
	switch ch {
	case ChannelRGB:
		return codeETC1RGB
	case ChannelR:
		return codeEACR11
	case ChannelRG:
		return codeEACRG11
	default:
		return codeETC2RGBA
	}
}

type block struct{ w, h, bytes uint32 }

var blocks = map[uint32]block{
	codeETC1RGB:    {4, 4, 8},
	codeETC2RGBA:   {4, 4, 16},
	codeBC4R:       {4, 4, 8},
	codeBC5RG:      {4, 4, 16},
	codeBC7RGBA:    {4, 4, 16},
	codeASTC4x4:    {4, 4, 16},
	codeRGBA32:     {1, 1, 4},
	codeEACR11:     {4, 4, 8},
	codeEACRG11:    {4, 4, 16},
	codeBC6H:       {4, 4, 16},
	codeASTCHDR4x4: {4, 4, 16},
	codeRGBAHalf:   {1, 1, 8},
	codeASTCHDR6x6: {6, 6, 16},
}

// Size returns the decoded byte count of tex in code: every level of every
// layer and face, levels outermost.
func Size(tex Texture, code uint32) uint32 {
	b, ok := blocks[code]
	if !ok {
		return 0
	}
	var total uint32
	for level := uint32(0); level < tex.Levels; level++ {
		w := max(tex.Width>>level, 1)
		h := max(tex.Height>>level, 1)
		per := ((w + b.w - 1) / b.w) * ((h + b.h - 1) / b.h) * b.bytes
		total += per * max(tex.Layers, 1) * tex.Faces
	}
	return total
}

// Pixels returns the bytes the backend produces for tex in code.
func Pixels(tex Texture, code uint32) []byte {
	out := make([]byte, Size(tex, code))
	for i := range out {
		out[i] = tex.Seed + byte(code) + byte(i*31)
	}
	return out
}

// IsSRGB reports the transfer function the backend returns for tex.
// HDR sources are always linear.
func IsSRGB(tex Texture) bool {
	if tex.Basis == UASTCHDR || tex.Basis == ASTCHDR6x6 {
		return false
	}
	return tex.SRGB
}
