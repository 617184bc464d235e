// Package dicom converts DICOM studies into displayable 8-bit bitmaps.
//
// The normalization applies a fixed step order, each step conditional on the
// presence of the relevant metadata: rescale (slope/intercept), windowing
// (center/width), photometric fix (MONOCHROME1 inversion, YBR to RGB) and a
// final min/max rescale to the [0,255] range.
package dicom

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	godicom "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/myinspectra/inspectra-go/internal/errors"
)

// Bitmap is the displayable rendition of a DICOM study.
type Bitmap struct {
	Image  image.Image
	Width  int
	Height int
}

// EncodePNG returns the bitmap as PNG bytes.
func (b *Bitmap) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.Image); err != nil {
		return nil, errors.New(err).Component("dicom").Category(errors.CategoryImageDecode).Build()
	}
	return buf.Bytes(), nil
}

// photometric interpretations that need no color fix
const (
	photometricMonochrome1 = "MONOCHROME1"
	photometricMonochrome2 = "MONOCHROME2"
	photometricRGB         = "RGB"
)

// Normalize decodes a DICOM byte stream into an 8-bit bitmap. A decode failure
// on malformed input is fatal to that file.
func Normalize(dicomBytes []byte) (*Bitmap, error) {
	ds, err := godicom.Parse(bytes.NewReader(dicomBytes), int64(len(dicomBytes)), nil)
	if err != nil {
		return nil, errors.New(fmt.Errorf("parsing DICOM stream: %w", err)).
			Component("dicom").
			Category(errors.CategoryDicomDecode).
			Context("size", len(dicomBytes)).
			Build()
	}

	pdElement, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, errors.New(fmt.Errorf("DICOM stream has no pixel data: %w", err)).
			Component("dicom").
			Category(errors.CategoryDicomDecode).
			Build()
	}
	info, ok := pdElement.Value.GetValue().(godicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, errors.Newf("DICOM pixel data holds no frames").
			Component("dicom").
			Category(errors.CategoryDicomDecode).
			Build()
	}

	fr := info.Frames[0]
	native, err := fr.GetNativeFrame()
	if err != nil {
		// Encapsulated transfer syntax, the frame is already a compressed
		// image so numeric rescale/window does not apply.
		img, imgErr := fr.GetImage()
		if imgErr != nil {
			return nil, errors.New(fmt.Errorf("decoding encapsulated frame: %w", imgErr)).
				Component("dicom").
				Category(errors.CategoryDicomDecode).
				Build()
		}
		bounds := img.Bounds()
		return &Bitmap{Image: img, Width: bounds.Dx(), Height: bounds.Dy()}, nil
	}

	rows, cols := native.Rows, native.Cols
	if rows == 0 || cols == 0 || len(native.Data) == 0 {
		return nil, errors.Newf("DICOM frame has empty pixel matrix").
			Component("dicom").
			Category(errors.CategoryDicomDecode).
			Build()
	}
	spp := len(native.Data[0])
	samples := flattenSamples(native.Data, spp)

	// 1. Rescale with slope/intercept when both tags are present.
	slope, hasSlope := floatTag(&ds, tag.RescaleSlope)
	intercept, hasIntercept := floatTag(&ds, tag.RescaleIntercept)
	if hasSlope && hasIntercept {
		samples = rescale(samples, slope, intercept)
	}

	// 2. Window to [center-width/2, center+width/2] when both tags are present.
	center, hasCenter := floatTag(&ds, tag.WindowCenter)
	width, hasWidth := floatTag(&ds, tag.WindowWidth)
	if hasCenter && hasWidth {
		samples = applyWindow(samples, center, width)
	}

	// 3. Photometric fix.
	photometric, hasPhotometric := stringTag(&ds, tag.PhotometricInterpretation)
	if hasPhotometric {
		switch {
		case photometric == photometricMonochrome1:
			samples = invertMonochrome(samples)
		case photometric != photometricMonochrome2 && photometric != photometricRGB:
			// Attempt RGB conversion, mostly for YBR. Failure is non-fatal,
			// the unmodified array is used instead.
			if converted, err := ybrToRGB(samples, spp); err == nil {
				samples = converted
			}
		}
	}

	// 4. Normalize to 0-255 uint8.
	normalized := normalizeTo8Bit(samples)

	return &Bitmap{
		Image:  buildImage(normalized, rows, cols, spp),
		Width:  cols,
		Height: rows,
	}, nil
}

// flattenSamples converts the per-pixel sample matrix into a channel
// interleaved float slice.
func flattenSamples(data [][]int, spp int) []float64 {
	samples := make([]float64, 0, len(data)*spp)
	for _, px := range data {
		for s := 0; s < spp; s++ {
			v := 0
			if s < len(px) {
				v = px[s]
			}
			samples = append(samples, float64(v))
		}
	}
	return samples
}

// rescale maps every sample through value*slope + intercept.
func rescale(samples []float64, slope, intercept float64) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = v*slope + intercept
	}
	return out
}

// applyWindow clips every sample into [center-width/2, center+width/2].
func applyWindow(samples []float64, center, width float64) []float64 {
	minValue := center - width/2
	maxValue := center + width/2
	out := make([]float64, len(samples))
	for i, v := range samples {
		switch {
		case v < minValue:
			out[i] = minValue
		case v > maxValue:
			out[i] = maxValue
		default:
			out[i] = v
		}
	}
	return out
}

// invertMonochrome flips MONOCHROME1 samples to MONOCHROME2 via max-value.
func invertMonochrome(samples []float64) []float64 {
	if len(samples) == 0 {
		return samples
	}
	maxValue := samples[0]
	for _, v := range samples[1:] {
		if v > maxValue {
			maxValue = v
		}
	}
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = maxValue - v
	}
	return out
}

// ybrToRGB converts YCbCr full-range samples to RGB in place of the numpy
// convert_color_space step. Only three-sample pixels can be converted.
func ybrToRGB(samples []float64, spp int) ([]float64, error) {
	if spp != 3 {
		return nil, fmt.Errorf("cannot convert %d samples per pixel to RGB", spp)
	}
	out := make([]float64, len(samples))
	for i := 0; i+2 < len(samples); i += 3 {
		y, cb, cr := samples[i], samples[i+1]-128, samples[i+2]-128
		out[i] = clamp255(y + 1.402*cr)
		out[i+1] = clamp255(y - 0.344136*cb - 0.714136*cr)
		out[i+2] = clamp255(y + 1.772*cb)
	}
	return out, nil
}

func clamp255(v float64) float64 {
	return math.Max(0, math.Min(255, v))
}

// normalizeTo8Bit rescales samples to [0,255] using their own min/max and
// casts to uint8. A degenerate (min==max) input yields all zeros.
func normalizeTo8Bit(samples []float64) []uint8 {
	out := make([]uint8, len(samples))
	if len(samples) == 0 {
		return out
	}
	minValue, maxValue := samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < minValue {
			minValue = v
		}
		if v > maxValue {
			maxValue = v
		}
	}
	if maxValue <= minValue {
		return out
	}
	scale := 255.0 / (maxValue - minValue)
	for i, v := range samples {
		out[i] = uint8((v - minValue) * scale)
	}
	return out
}

// buildImage assembles the normalized samples into a grayscale or RGBA image.
func buildImage(normalized []uint8, rows, cols, spp int) image.Image {
	if spp >= 3 {
		img := image.NewRGBA(image.Rect(0, 0, cols, rows))
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				base := (y*cols + x) * spp
				img.SetRGBA(x, y, color.RGBA{
					R: normalized[base],
					G: normalized[base+1],
					B: normalized[base+2],
					A: 255,
				})
			}
		}
		return img
	}
	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			img.SetGray(x, y, color.Gray{Y: normalized[(y*cols+x)*spp]})
		}
	}
	return img
}

// floatTag extracts the first numeric value of a tag, handling both scalar
// and multi-valued representations.
func floatTag(ds *godicom.Dataset, t tag.Tag) (float64, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		if len(v) == 0 {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v[0]), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case []float64:
		if len(v) == 0 {
			return 0, false
		}
		return v[0], true
	case []int:
		if len(v) == 0 {
			return 0, false
		}
		return float64(v[0]), true
	}
	return 0, false
}

// stringTag extracts the first string value of a tag.
func stringTag(ds *godicom.Dataset, t tag.Tag) (string, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return "", false
	}
	if v, ok := el.Value.GetValue().([]string); ok && len(v) > 0 {
		return strings.TrimSpace(v[0]), true
	}
	return "", false
}

// IsDicom reports whether the byte stream looks like a DICOM file, either by
// the DICM magic at offset 128 or the declared content type.
func IsDicom(data []byte, contentType string) bool {
	if strings.EqualFold(contentType, "application/dicom") {
		return true
	}
	return len(data) > 132 && string(data[128:132]) == "DICM"
}
