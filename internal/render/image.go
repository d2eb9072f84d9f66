package render

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

type picture struct {
	Path   string
	Data   []byte
	Format string // png, jpeg or gif
	Width  int
	Height int
}

// heightFor returns the height that keeps the aspect ratio at width.
func (p picture) heightFor(width float64) float64 {
	if p.Width == 0 {
		return 0
	}
	return width * float64(p.Height) / float64(p.Width)
}

// widthFor returns the width that keeps the aspect ratio at height.
func (p picture) widthFor(height float64) float64 {
	if p.Height == 0 {
		return 0
	}
	return height * float64(p.Width) / float64(p.Height)
}

// loadPicture reads and sniffs an image. Unreadable or unsupported files
// report ok=false and are skipped by every renderer.
func loadPicture(path string) (picture, bool) {
	if path == "" {
		return picture{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return picture{}, false
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return picture{}, false
	}
	return picture{Path: path, Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, true
}
