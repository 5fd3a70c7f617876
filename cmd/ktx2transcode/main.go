package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	"github.com/gogpu/gputypes"
	"go.uber.org/zap"
	"golang.org/x/image/tiff"
	"golang.org/x/term"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/backend/isolated"
	"github.com/wippyai/ktx2-transcoder/capability"
	"github.com/wippyai/ktx2-transcoder/engine"
	"github.com/wippyai/ktx2-transcoder/loader"
	"github.com/wippyai/ktx2-transcoder/session"
)

type options struct {
	env      string
	wasmFile string
	prefix   string
	mask     string
	output   string
	verbose  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.env, "env", "", "Environment: direct or isolated (default: isolated with -wasm, else direct)")
	flag.StringVar(&opts.wasmFile, "wasm", "", "Path to the transcoder wasm module")
	flag.StringVar(&opts.prefix, "prefix", "", "Export name prefix of the wasm module (e.g. _)")
	flag.StringVar(&opts.mask, "mask", "none", "Supported families: astc-ldr,astc-hdr,bc,etc2, all or none")
	flag.StringVar(&opts.output, "o", "", "Write level 0 as TIFF (uncompressed results only)")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	interactive := flag.Bool("i", false, "Interactive mode with TUI")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: ktx2transcode [-env direct|isolated] [-wasm file.wasm] [-mask bc,etc2] [-o out.tiff] <file.ktx2>")
		fmt.Fprintln(os.Stderr, "       ktx2transcode -wasm file.wasm -i <file.ktx2>  (interactive mode)")
		os.Exit(1)
	}
	input := flag.Arg(0)

	if opts.verbose {
		if err := setupLogging(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(input, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(input, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging() error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	engine.SetLogger(log)
	backend.SetLogger(log)
	session.SetLogger(log)
	loader.SetLogger(log)
	return nil
}

// newLoader builds a loader for opts.
func newLoader(ctx context.Context, opts options) (*loader.Loader, error) {
	mask, err := capability.ParseMask(opts.mask)
	if err != nil {
		return nil, err
	}

	cfg := &loader.Config{
		Environment: opts.env,
		Features:    mask.Features(),
	}
	if opts.wasmFile != "" {
		cfg.WASM, err = os.ReadFile(opts.wasmFile)
		if err != nil {
			return nil, fmt.Errorf("read wasm: %w", err)
		}
		cfg.Isolated = &isolated.Config{
			ExportPrefix: opts.prefix,
			Stdout:       os.Stderr,
			Stderr:       os.Stderr,
		}
	}
	return loader.New(ctx, cfg)
}

func run(input string, opts options) error {
	ctx := context.Background()

	l, err := newLoader(ctx, opts)
	if err != nil {
		return fmt.Errorf("create loader: %w", err)
	}
	defer l.Close(ctx)

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	tex, err := l.Load(ctx, f, &loader.Settings{Label: input})
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}

	printTexture(os.Stdout, input, l, tex)

	if opts.output != "" {
		if err := writeTIFF(opts.output, tex); err != nil {
			return err
		}
		fmt.Printf("\nWrote %s\n", opts.output)
	}
	return nil
}

func printTexture(w io.Writer, input string, l *loader.Loader, tex *loader.Texture) {
	img := tex.Image
	fmt.Fprintf(w, "File:        %s\n", input)
	fmt.Fprintf(w, "Environment: %s\n", l.Environment().Kind())
	fmt.Fprintf(w, "Mask:        %s\n", l.Mask())
	fmt.Fprintf(w, "Compression: %s\n", tex.Compression)
	fmt.Fprintf(w, "Backend:     %s\n", img.Code())
	fmt.Fprintf(w, "Format:      %s (sRGB: %v)\n", img.Format(), img.IsSRGB())
	fmt.Fprintf(w, "Size:        %dx%d\n", img.Width(), img.Height())
	fmt.Fprintf(w, "Levels:      %d\n", img.Levels())
	fmt.Fprintf(w, "Layers:      %d\n", img.Layers())
	fmt.Fprintf(w, "Faces:       %d\n", img.Faces())
	fmt.Fprintf(w, "View:        %s\n", img.Topology().View)
	fmt.Fprintf(w, "Bytes:       %d\n", len(tex.Data()))
}

// writeTIFF dumps level 0, layer 0, face 0 of an RGBA8 texture.
func writeTIFF(path string, tex *loader.Texture) error {
	f := tex.Image.Format()
	if f != gputypes.TextureFormatRGBA8Unorm && f != gputypes.TextureFormatRGBA8UnormSrgb {
		return fmt.Errorf("cannot write %s as TIFF; rerun with -mask none", f)
	}
	pix, err := tex.Image.Subresource(0, 0, 0)
	if err != nil {
		return err
	}

	w, h := int(tex.Image.Width()), int(tex.Image.Height())
	img := &image.NRGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := tiff.Encode(out, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		out.Close()
		return fmt.Errorf("encode tiff: %w", err)
	}
	return out.Close()
}

func familyNames() []string {
	return strings.Split(capability.All.String(), "|")
}
