package backendtest

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/ktx2-transcoder/backend/direct"
)

type transcoder struct {
	tex    Texture
	target uint32
	srgb   bool
	dst    []byte
}

// Library implements direct.Library with the reference policy. Transcoder
// addresses are synthetic and never dereferenced.
type Library struct {
	mu    sync.Mutex
	live  map[uintptr]*transcoder
	next  uintptr
	inits atomic.Int32

	// FailNew makes New return a null transcoder.
	FailNew atomic.Bool
}

// NewLibrary returns an empty reference library.
func NewLibrary() *Library {
	return &Library{live: make(map[uintptr]*transcoder), next: 0x1000}
}

// Inits returns how many times Init ran.
func (l *Library) Inits() int {
	return int(l.inits.Load())
}

// Live returns the number of transcoders not yet deleted.
func (l *Library) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

func (l *Library) Init() {
	l.inits.Add(1)
}

func (l *Library) New() uintptr {
	if l.FailNew.Load() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.next
	l.next += 0x40
	l.live[t] = &transcoder{}
	return t
}

func (l *Library) Delete(t uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.live, t)
}

func (l *Library) get(t uintptr) *transcoder {
	l.mu.Lock()
	defer l.mu.Unlock()
	tr, ok := l.live[t]
	if !ok {
		panic("backendtest: use of deleted transcoder")
	}
	return tr
}

func (l *Library) TranscodeImage(t uintptr, data []byte, mask uint8) bool {
	tr := l.get(t)
	tex, ok := Decode(data)
	if !ok {
		*tr = transcoder{}
		return false
	}
	code := Select(tex.Basis, tex.Channel, mask)
	*tr = transcoder{
		tex:    tex,
		target: code,
		srgb:   IsSRGB(tex),
		dst:    Pixels(tex, code),
	}
	return true
}

func (l *Library) DstBuf(t uintptr) []byte       { return l.get(t).dst }
func (l *Library) Width(t uintptr) uint32        { return l.get(t).tex.Width }
func (l *Library) Height(t uintptr) uint32       { return l.get(t).tex.Height }
func (l *Library) Levels(t uintptr) uint32       { return l.get(t).tex.Levels }
func (l *Library) Layers(t uintptr) uint32       { return l.get(t).tex.Layers }
func (l *Library) Faces(t uintptr) uint32        { return l.get(t).tex.Faces }
func (l *Library) TargetFormat(t uintptr) uint32 { return l.get(t).target }
func (l *Library) IsSRGB(t uintptr) bool         { return l.get(t).srgb }

var _ direct.Library = (*Library)(nil)
