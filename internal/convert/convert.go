// Package convert normalizes downloaded images into formats every mail client
// renders inline.
package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gabriel-vasile/mimetype"

	logx "naps/pkg/logx"
)

var allowedMIME = []string{"image/jpeg", "image/png"}

// Result is the normalized attachment.
type Result struct {
	Filename  string
	Data      []byte
	MIME      string
	Converted bool
}

type Converter struct {
	log logx.Logger
}

func New(log logx.Logger) *Converter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Converter{log: log}
}

// Normalize passes JPEG and PNG through and re-encodes other decodable
// images as PNG, swapping the filename extension. Data that cannot be decoded
// is returned unchanged together with the decode error.
func (c *Converter) Normalize(filename string, data []byte) (Result, error) {
	mt := mimetype.Detect(data)
	mime := mt.String()
	if mimetype.EqualsAny(mime, allowedMIME...) {
		c.log.Debug("image already in a supported format", logx.String("mime", mime))
		return Result{Filename: filename, Data: data, MIME: mime}, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{Filename: filename, Data: data, MIME: mime}, fmt.Errorf("decode %s (%s): %w", filename, mime, err)
	}
	c.log.Debug("converting image", logx.String("from", mime), logx.String("format", format), logx.String("to", "image/png"))

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return Result{Filename: filename, Data: data, MIME: mime}, fmt.Errorf("encode png: %w", err)
	}
	return Result{
		Filename:  swapExt(filename, ".png"),
		Data:      out.Bytes(),
		MIME:      "image/png",
		Converted: true,
	}, nil
}

func swapExt(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "image"
	}
	return base + ext
}
