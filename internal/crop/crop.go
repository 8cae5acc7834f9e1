// Package crop derives pixel-accurate product crops from the normalized
// bounding boxes returned by the vision model.
package crop

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	// Decoders for the formats ingestion is allowed to hand us.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// BoxScale is the coordinate space of model bounding boxes: each component
// is normalized to [0, BoxScale] relative to the source image's natural
// width/height.
const BoxScale = 1000

// jpegQuality balances spreadsheet file size against thumbnail fidelity.
const jpegQuality = 90

// Box is a normalized bounding box in [ymin, xmin, ymax, xmax] order,
// matching the wire format of the analysis response.
type Box [4]float64

func (b Box) YMin() float64 { return b[0] }
func (b Box) XMin() float64 { return b[1] }
func (b Box) YMax() float64 { return b[2] }
func (b Box) XMax() float64 { return b[3] }

// Valid reports whether every component is within [0, BoxScale] and the
// box is not inverted. Degenerate boxes (zero width or height) are valid;
// Crop floors them to one pixel.
func (b Box) Valid() bool {
	for _, v := range b {
		if v < 0 || v > BoxScale {
			return false
		}
	}
	return b.XMax() >= b.XMin() && b.YMax() >= b.YMin()
}

// Crop cuts the region described by box out of src and re-encodes it as
// JPEG. It never fails: if src cannot be decoded, or the crop region does
// not intersect the image, or re-encoding fails, the original bytes are
// returned so a missing crop never aborts the surrounding analysis.
func Crop(src []byte, box Box) []byte {
	img, err := Decode(src)
	if err != nil {
		log.Warn().Err(err).Msg("crop: source not decodable, keeping full image")
		return src
	}

	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	left := int(box.XMin() / BoxScale * w)
	top := int(box.YMin() / BoxScale * h)
	cw := int((box.XMax() - box.XMin()) / BoxScale * w)
	ch := int((box.YMax() - box.YMin()) / BoxScale * h)
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}

	cropped := imaging.Crop(img, image.Rect(left, top, left+cw, top+ch))
	if cropped.Bounds().Empty() {
		log.Warn().
			Floats64("box", box[:]).
			Msg("crop: region outside image, keeping full image")
		return src
	}

	out, err := EncodeJPEG(cropped)
	if err != nil {
		log.Warn().Err(err).Msg("crop: re-encode failed, keeping full image")
		return src
	}
	return out
}

// Decode decodes an encoded image in any supported format.
func Decode(src []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(src))
}

// EncodeJPEG encodes img as JPEG at the fixed thumbnail quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
