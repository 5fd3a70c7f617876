package backend

import (
	"regexp"
	"strings"
	"sync"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ktx2-transcoder/errors"
)

// Entry points of the backend. The same names are C symbols of the native
// library and exports of the wasm module.
const (
	ExportInit         = "c_basisu_transcoder_init"
	ExportNew          = "c_ktx2_transcoder_new"
	ExportDelete       = "c_ktx2_transcoder_delete"
	ExportTranscode    = "c_ktx2_transcoder_transcode_image"
	ExportDstBuf       = "c_ktx2_transcoder_get_r_dst_buf"
	ExportDstBufLen    = "c_ktx2_transcoder_get_r_dst_buf_len"
	ExportWidth        = "c_ktx2_transcoder_get_r_width"
	ExportHeight       = "c_ktx2_transcoder_get_r_height"
	ExportLevels       = "c_ktx2_transcoder_get_r_levels"
	ExportLayers       = "c_ktx2_transcoder_get_r_layers"
	ExportFaces        = "c_ktx2_transcoder_get_r_faces"
	ExportTargetFormat = "c_ktx2_transcoder_get_r_target_format"
	ExportIsSRGB       = "c_ktx2_transcoder_get_r_is_srgb"

	// Heap exports, only present in the isolated build.
	ExportMalloc = "malloc"
	ExportFree   = "free"
)

// abiWIT describes the backend entry points. Pointers and handles are u32
// offsets in the isolated build.
const abiWIT = `
interface ktx2-transcoder {
	c-basisu-transcoder-init: func();
	c-ktx2-transcoder-new: func() -> u32;
	c-ktx2-transcoder-delete: func(t: u32);
	c-ktx2-transcoder-transcode-image: func(t: u32, data: u32, len: u32, mask: u8) -> bool;
	c-ktx2-transcoder-get-r-dst-buf: func(t: u32) -> u32;
	c-ktx2-transcoder-get-r-dst-buf-len: func(t: u32) -> u32;
	c-ktx2-transcoder-get-r-width: func(t: u32) -> u32;
	c-ktx2-transcoder-get-r-height: func(t: u32) -> u32;
	c-ktx2-transcoder-get-r-levels: func(t: u32) -> u32;
	c-ktx2-transcoder-get-r-layers: func(t: u32) -> u32;
	c-ktx2-transcoder-get-r-faces: func(t: u32) -> u32;
	c-ktx2-transcoder-get-r-target-format: func(t: u32) -> u32;
	c-ktx2-transcoder-get-r-is-srgb: func(t: u32) -> bool;
}

interface heap {
	malloc: func(size: u32) -> u32;
	free: func(ptr: u32);
}
`

// Signature is one entry point with its WIT parameter and result types.
type Signature struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

var (
	abiOnce sync.Once
	abiSigs []Signature
	abiErr  error
)

// ABI returns the parsed entry point table in declaration order.
func ABI() ([]Signature, error) {
	abiOnce.Do(func() {
		abiSigs, abiErr = parseWitFunctions(abiWIT)
	})
	return abiSigs, abiErr
}

// Lookup returns the signature of a named entry point.
func Lookup(name string) (Signature, bool) {
	sigs, err := ABI()
	if err != nil {
		return Signature{}, false
	}
	for _, s := range sigs {
		if s.Name == name {
			return s, true
		}
	}
	return Signature{}, false
}

var funcPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// parseWitFunctions extracts function signatures from WIT text.
// Pattern: name: func(params) -> result;
// Kebab names are converted to the snake case used by C symbols.
func parseWitFunctions(witText string) ([]Signature, error) {
	var sigs []Signature

	matches := funcPattern.FindAllStringSubmatch(witText, -1)
	for _, match := range matches {
		sig := Signature{Name: strings.ReplaceAll(match[1], "-", "_")}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range strings.Split(params, ",") {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = p[idx+1:]
				}
				t, err := wit.ParseType(strings.TrimSpace(typStr))
				if err != nil {
					return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "parse param type "+typStr)
				}
				sig.Params = append(sig.Params, t)
			}
		}

		if result := strings.TrimSpace(match[3]); result != "" && result != "()" {
			t, err := wit.ParseType(result)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "parse result type "+result)
			}
			sig.Results = []wit.Type{t}
		}

		sigs = append(sigs, sig)
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "no functions found in WIT text")
	}

	return sigs, nil
}
