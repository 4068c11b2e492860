package marker

import (
	"math"
	"regexp"
	"strings"

	"github.com/arbovm/levenshtein"
	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/imgproc"
	"github.com/cunyap/pypocquant/internal/ocr"
)

// SampleInfo is the decoded sample identifier with the optional
// annotation fields encoded alongside it.
type SampleInfo struct {
	FID          string
	Manufacturer string
	Plate        string
	Well         string
	User         string
}

var (
	fullSamplePattern = regexp.MustCompile(
		`^(?P<fid>[A-Z]{0,18}[0-9]{0,18})-(?P<manufacturer>.+)-Plate (?P<plate>\d{1,3})-Well (?P<well>.+)-(?P<user>.+)$`)
	shortFIDPattern   = regexp.MustCompile(`^F[0-9]{7}$`)
	numericFIDPattern = regexp.MustCompile(`^[0-9]{5}$`)
	ocrFIDPattern     = regexp.MustCompile(`^[A-Z]{0,18}[0-9]{1,18}$`)
)

// KnownManufacturers lists the strip manufacturers encountered so far.
var KnownManufacturers = []string{
	"AUGURIX",
	"BIOZAK",
	"CTKBIOTECH",
	"DRALBERMEXACARE",
	"LUMIRATEK",
	"NTBIO",
	"SUREBIOTECH",
	"TAMIRNA",
}

// ParseSampleText parses a marker payload into sample information. It
// accepts the full annotated form, the F-prefixed short form and the
// plain 5-digit form.
func ParseSampleText(text string) (SampleInfo, bool) {
	if m := fullSamplePattern.FindStringSubmatch(text); m != nil {
		info := SampleInfo{
			FID:          m[fullSamplePattern.SubexpIndex("fid")],
			Manufacturer: m[fullSamplePattern.SubexpIndex("manufacturer")],
			Plate:        m[fullSamplePattern.SubexpIndex("plate")],
			Well:         m[fullSamplePattern.SubexpIndex("well")],
			User:         m[fullSamplePattern.SubexpIndex("user")],
		}
		return info, info.FID != ""
	}
	if shortFIDPattern.MatchString(text) || numericFIDPattern.MatchString(text) {
		return SampleInfo{FID: text}, true
	}
	return SampleInfo{}, false
}

// NumericFID returns the digits of the FID, keeping leading zeros.
func NumericFID(fid string) string {
	var b strings.Builder
	for _, r := range fid {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Merge fills the empty fields of s from other.
func (s SampleInfo) Merge(other SampleInfo) SampleInfo {
	if s.FID == "" {
		s.FID = other.FID
	}
	if s.Manufacturer == "" {
		s.Manufacturer = other.Manufacturer
	}
	if s.Plate == "" {
		s.Plate = other.Plate
	}
	if s.Well == "" {
		s.Well = other.Well
	}
	if s.User == "" {
		s.User = other.User
	}
	return s
}

// MatchManufacturer matches an OCR token against the known manufacturer
// names, tolerating up to a quarter of the name being misread.
func MatchManufacturer(token string) (string, bool) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return "", false
	}
	for _, name := range KnownManufacturers {
		if strings.Contains(token, name) {
			return name, true
		}
		maxDist := int(math.Ceil(float64(len(name)) / 4))
		if levenshtein.Distance(token, name) <= maxDist {
			return name, true
		}
	}
	return "", false
}

// RescueSampleInfo tries to read the sample identifier and manufacturer
// from printed labels when the marker payload could not be decoded. It
// runs OCR at the four cardinal rotations because the label may sit on
// any side of the template.
func RescueSampleInfo(engine *ocr.Engine, gray gocv.Mat) SampleInfo {
	var info SampleInfo

	for _, degrees := range []int{0, 90, 180, 270} {
		if info.FID != "" && info.Manufacturer != "" {
			return info
		}

		rotated := imgproc.RotateQuadrant(gray, degrees)
		words, err := engine.Words(rotated)
		rotated.Close()
		if err != nil {
			continue
		}

		for _, w := range words {
			text := strings.ToUpper(w.Text)
			if info.Manufacturer == "" {
				if name, ok := MatchManufacturer(text); ok {
					info.Manufacturer = name
					continue
				}
			}
			if info.FID == "" && ocrFIDPattern.MatchString(text) {
				info.FID = text
			}
		}
	}
	return info
}
