//go:build basisu_native && cgo

package direct

/*
#cgo LDFLAGS: -lbasisu_transcoding -lstdc++ -lm
#include <stdbool.h>
#include <stdlib.h>

typedef struct Transcoder Transcoder;

void c_basisu_transcoder_init(void);
Transcoder *c_ktx2_transcoder_new(void);
void c_ktx2_transcoder_delete(Transcoder *t);
bool c_ktx2_transcoder_transcode_image(Transcoder *t, const unsigned char *data, unsigned int data_size, unsigned char supported);
unsigned char *c_ktx2_transcoder_get_r_dst_buf(Transcoder *t);
unsigned int c_ktx2_transcoder_get_r_dst_buf_len(Transcoder *t);
unsigned int c_ktx2_transcoder_get_r_width(Transcoder *t);
unsigned int c_ktx2_transcoder_get_r_height(Transcoder *t);
unsigned int c_ktx2_transcoder_get_r_levels(Transcoder *t);
unsigned int c_ktx2_transcoder_get_r_layers(Transcoder *t);
unsigned int c_ktx2_transcoder_get_r_faces(Transcoder *t);
unsigned int c_ktx2_transcoder_get_r_target_format(Transcoder *t);
bool c_ktx2_transcoder_get_r_is_srgb(Transcoder *t);
*/
import "C"

import "unsafe"

type nativeLibrary struct{}

// Native returns the linked Basis Universal transcoder library.
func Native() (Library, error) {
	return nativeLibrary{}, nil
}

func tr(t uintptr) *C.Transcoder {
	return (*C.Transcoder)(unsafe.Pointer(t))
}

func (nativeLibrary) Init() { C.c_basisu_transcoder_init() }

func (nativeLibrary) New() uintptr { return uintptr(unsafe.Pointer(C.c_ktx2_transcoder_new())) }

func (nativeLibrary) Delete(t uintptr) { C.c_ktx2_transcoder_delete(tr(t)) }

func (nativeLibrary) TranscodeImage(t uintptr, data []byte, mask uint8) bool {
	var ptr *C.uchar
	if len(data) > 0 {
		ptr = (*C.uchar)(unsafe.Pointer(&data[0]))
	}
	return bool(C.c_ktx2_transcoder_transcode_image(tr(t), ptr, C.uint(len(data)), C.uchar(mask)))
}

func (nativeLibrary) DstBuf(t uintptr) []byte {
	ptr := C.c_ktx2_transcoder_get_r_dst_buf(tr(t))
	n := C.c_ktx2_transcoder_get_r_dst_buf_len(tr(t))
	if ptr == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(n))
}

func (nativeLibrary) Width(t uintptr) uint32  { return uint32(C.c_ktx2_transcoder_get_r_width(tr(t))) }
func (nativeLibrary) Height(t uintptr) uint32 { return uint32(C.c_ktx2_transcoder_get_r_height(tr(t))) }
func (nativeLibrary) Levels(t uintptr) uint32 { return uint32(C.c_ktx2_transcoder_get_r_levels(tr(t))) }
func (nativeLibrary) Layers(t uintptr) uint32 { return uint32(C.c_ktx2_transcoder_get_r_layers(tr(t))) }
func (nativeLibrary) Faces(t uintptr) uint32  { return uint32(C.c_ktx2_transcoder_get_r_faces(tr(t))) }

func (nativeLibrary) TargetFormat(t uintptr) uint32 {
	return uint32(C.c_ktx2_transcoder_get_r_target_format(tr(t)))
}

func (nativeLibrary) IsSRGB(t uintptr) bool { return bool(C.c_ktx2_transcoder_get_r_is_srgb(tr(t))) }
