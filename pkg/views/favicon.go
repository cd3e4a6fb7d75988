package views

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// FaviconSize is the edge length of the served favicon.
const FaviconSize = 32

// Favicon renders the favicon PNG. src is an optional image file on disk; the
// bundled icon is used when it is empty.
func Favicon(src string, size int) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	if src != "" {
		img, err = imaging.Open(src)
	} else {
		var raw []byte
		if raw, err = staticFS.ReadFile("static/favicon.png"); err == nil {
			img, err = imaging.Decode(bytes.NewReader(raw))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("views: load favicon: %w", err)
	}
	img = imaging.Fit(img, size, size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("views: encode favicon: %w", err)
	}
	return buf.Bytes(), nil
}
