// Package imgio loads photographs (JPEG, PNG, TIFF and camera RAW) into
// OpenCV matrices and extracts their acquisition metadata.
package imgio

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"
	"gopkg.in/gographics/imagick.v3/imagick"

	_ "golang.org/x/image/tiff"
)

// rawExtensions are the supported camera RAW file extensions.
var rawExtensions = map[string]bool{
	".nef": true,
	".cr2": true,
	".arw": true,
}

// IsRaw returns true if the filename has a supported camera RAW extension.
func IsRaw(filename string) bool {
	return rawExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IsSupported returns true if the filename has an extension the loader can
// handle.
func IsSupported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff":
		return true
	}
	return IsRaw(filename)
}

var magickOnce sync.Once

// Load reads an image file and returns it as an 8-bit BGR matrix.
//
// Standard formats are decoded with OpenCV, with a pure-Go decode as
// fallback for files OpenCV cannot open (for example paths with non-ASCII
// characters). RAW files are developed with ImageMagick; autoStretch and
// autoWB select automatic intensity stretching and white balancing and
// have no effect on standard formats.
func Load(path string, autoStretch, autoWB bool) (gocv.Mat, error) {
	if IsRaw(path) {
		return loadRaw(path, autoStretch, autoWB)
	}

	img := gocv.IMRead(path, gocv.IMReadColor)
	if !img.Empty() {
		return img, nil
	}
	img.Close()

	// OpenCV failed; retry with the standard library decoders.
	f, err := os.Open(path)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode image %s: %w", path, err)
	}

	rgb, err := gocv.ImageToMatRGB(decoded)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("convert image %s: %w", path, err)
	}
	defer rgb.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)
	return bgr, nil
}

// loadRaw develops a camera RAW file through ImageMagick and decodes the
// result into a BGR matrix.
func loadRaw(path string, autoStretch, autoWB bool) (gocv.Mat, error) {
	magickOnce.Do(imagick.Initialize)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return gocv.Mat{}, fmt.Errorf("read RAW file %s: %w", path, err)
	}
	if err := mw.SetImageDepth(8); err != nil {
		return gocv.Mat{}, fmt.Errorf("set image depth for %s: %w", path, err)
	}
	if autoStretch {
		if err := mw.AutoLevelImage(); err != nil {
			return gocv.Mat{}, fmt.Errorf("auto-level %s: %w", path, err)
		}
	}
	if autoWB {
		if err := mw.AutoGammaImage(); err != nil {
			return gocv.Mat{}, fmt.Errorf("auto white balance %s: %w", path, err)
		}
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return gocv.Mat{}, fmt.Errorf("set output format for %s: %w", path, err)
	}

	img, err := gocv.IMDecode(mw.GetImageBlob(), gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode developed RAW %s: %w", path, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("decode developed RAW %s: empty result", path)
	}
	return img, nil
}

// ListImages returns the sorted names of all supported image files in a
// directory.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input folder: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsSupported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
