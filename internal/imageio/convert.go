package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// ErrDecode indicates the fetched bytes could not be decoded as an image.
var ErrDecode = errors.New("image decode failed")

// Decode parses encoded image bytes into a 3-channel BGR Mat. EXIF
// orientation is applied so phone captures arrive upright. The caller
// owns the returned Mat.
func Decode(data []byte) (gocv.Mat, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return ToMat(img)
}

// ToMat converts an image.Image to a 3-channel BGR Mat. The caller owns
// the returned Mat.
func ToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", ErrDecode)
	}

	buf := make([]byte, w*h*3)
	switch src := img.(type) {
	case *image.NRGBA:
		// imaging.Decode always lands here.
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			for x := 0; x < w; x++ {
				i := (y*w + x) * 3
				buf[i+0] = row[x*4+2]
				buf[i+1] = row[x*4+1]
				buf[i+2] = row[x*4+0]
			}
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			for x := 0; x < w; x++ {
				i := (y*w + x) * 3
				buf[i+0] = row[x*4+2]
				buf[i+1] = row[x*4+1]
				buf[i+2] = row[x*4+0]
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w]
			for x := 0; x < w; x++ {
				i := (y*w + x) * 3
				buf[i+0] = row[x]
				buf[i+1] = row[x]
				buf[i+2] = row[x]
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				i := (y*w + x) * 3
				buf[i+0] = byte(b >> 8)
				buf[i+1] = byte(g >> 8)
				buf[i+2] = byte(r >> 8)
			}
		}
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
}

// ToImage converts a 1-channel or 3-channel 8-bit Mat back to an
// image.Image.
func ToImage(mat gocv.Mat) (image.Image, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	src := mat
	if !mat.IsContinuous() {
		src = mat.Clone()
		defer src.Close()
	}
	w, h := src.Cols(), src.Rows()
	data := src.ToBytes()

	switch src.Channels() {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		copy(img.Pix, data)
		return img, nil
	case 3:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			img.Pix[i*4+0] = data[i*3+2]
			img.Pix[i*4+1] = data[i*3+1]
			img.Pix[i*4+2] = data[i*3+0]
			img.Pix[i*4+3] = 255
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", src.Channels())
	}
}
