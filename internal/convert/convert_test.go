package convert

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	logx "naps/pkg/logx"
)

func sample() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 100, A: 255})
		}
	}
	return img
}

func TestNormalizePassThrough(t *testing.T) {
	t.Parallel()
	var jb, pb bytes.Buffer
	if err := jpeg.Encode(&jb, sample(), nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	if err := png.Encode(&pb, sample()); err != nil {
		t.Fatalf("png encode: %v", err)
	}

	c := New(logx.Nop())
	for name, data := range map[string][]byte{"a.jpg": jb.Bytes(), "b.png": pb.Bytes()} {
		res, err := c.Normalize(name, data)
		if err != nil {
			t.Fatalf("Normalize(%s): %v", name, err)
		}
		if res.Converted || res.Filename != name || !bytes.Equal(res.Data, data) {
			t.Fatalf("Normalize(%s) changed a supported image: %+v", name, res.Filename)
		}
	}
}

func TestNormalizeConvertsGIF(t *testing.T) {
	t.Parallel()
	var gb bytes.Buffer
	if err := gif.Encode(&gb, sample(), nil); err != nil {
		t.Fatalf("gif encode: %v", err)
	}

	res, err := New(logx.Nop()).Normalize("anim.GIF", gb.Bytes())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !res.Converted || res.Filename != "anim.png" || res.MIME != "image/png" {
		t.Fatalf("unexpected result: converted=%v name=%s mime=%s", res.Converted, res.Filename, res.MIME)
	}
	if _, err := png.Decode(bytes.NewReader(res.Data)); err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
}

func TestNormalizeUndecodable(t *testing.T) {
	t.Parallel()
	data := []byte("definitely not an image")
	res, err := New(logx.Nop()).Normalize("x.heic", data)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if res.Converted || !bytes.Equal(res.Data, data) || res.Filename != "x.heic" {
		t.Fatalf("undecodable input should pass through unchanged: %+v", res.Filename)
	}
}

func TestSwapExt(t *testing.T) {
	t.Parallel()
	if got := swapExt("IMG_0001.HEIC", ".png"); got != "IMG_0001.png" {
		t.Fatalf("swapExt = %s", got)
	}
	if got := swapExt("", ".png"); got != "image.png" {
		t.Fatalf("swapExt(empty) = %s", got)
	}
}
