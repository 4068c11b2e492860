package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/cunyap/pypocquant/internal/bands"
	"github.com/cunyap/pypocquant/internal/config"
	"github.com/cunyap/pypocquant/internal/imgio"
	"github.com/cunyap/pypocquant/internal/imgproc"
	"github.com/cunyap/pypocquant/internal/marker"
	"github.com/cunyap/pypocquant/internal/ocr"
	"github.com/cunyap/pypocquant/internal/orientation"
	"github.com/cunyap/pypocquant/internal/qcimg"
	"github.com/cunyap/pypocquant/internal/sensor"
	"github.com/cunyap/pypocquant/pkg/geometry"
)

// Fewer than three markers cannot anchor the strip box.
const minMarkerScore = 3

// Residual marker rotation above this many degrees after alignment
// counts as a poor fit.
const alignmentTolerance = 2.0

// Re-decode threshold: a rotation this large moves the markers enough
// that their positions must be measured again.
const redecodeAngle = 0.5

// How far above the strip box to look for a printed FID label.
const fidLabelMargin = 600

// Band widths tried during quantification; some strips have unusually
// narrow bands.
var peakWidths = []int{7, 3}

// Processor analyzes one image at a time. It owns a marker decoder and
// an OCR engine and is therefore not safe for concurrent use; the batch
// coordinator creates one Processor per worker.
type Processor struct {
	cfg        config.Config
	resultsDir string
	decoder    *marker.Decoder
	engine     *ocr.Engine
	log        *logrus.Logger
}

// NewProcessor creates a processor writing QC artifacts to resultsDir.
func NewProcessor(cfg config.Config, resultsDir string, log *logrus.Logger) (*Processor, error) {
	engine, err := ocr.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("create OCR engine: %w", err)
	}
	return &Processor{
		cfg:        cfg,
		resultsDir: resultsDir,
		decoder:    marker.NewDecoder(),
		engine:     engine,
		log:        log,
	}, nil
}

// Close releases the processor resources.
func (p *Processor) Close() {
	p.decoder.Close()
	p.engine.Close()
}

// Process analyzes a single image and always returns a record; failures
// are folded into the record's issue code.
func (p *Processor) Process(ctx context.Context, path string) *Record {
	filename := filepath.Base(path)
	rec := &Record{
		Filename:  filename,
		Extension: filepath.Ext(filename),
		Basename:  strings.TrimSuffix(filename, filepath.Ext(filename)),
		Bands:     map[string]BandResult{},
	}
	log := p.log.WithField("file", filename)

	meta := imgio.ExtractMetadata(ctx, path)
	rec.ISODate = meta.ISODate
	rec.ISOTime = meta.ISOTime
	rec.ExpTime = meta.ExposureTime
	rec.FNumber = meta.FNumber
	rec.FocalLength35 = meta.FocalLength35
	rec.ISOSpeed = meta.ISOSpeed

	img, err := imgio.Load(path, p.cfg.RawAutoStretch, p.cfg.RawAutoWB)
	if err != nil {
		log.WithError(err).Error("cannot load image")
		rec.Issue = IssueUnrecoverable
		return rec
	}
	defer func() { img.Close() }()

	qcBase := qcimg.Basename(filename)

	// Marker localization over the rescaling/stretch grid.
	set := p.decoder.DecodeBest(img)
	log.WithFields(logrus.Fields{
		"score":   set.Score,
		"scaling": set.Scaling,
		"stretch": fmt.Sprintf("(%g, %g)", set.LowerPercent, set.UpperPercent),
	}).Debug("marker decode")
	if set.Score < minMarkerScore {
		log.Warn("marker extraction failed")
		rec.Issue = IssueBarcodeExtractionFailed
		return rec
	}

	// Coarse orientation from the corner marker layout.
	if degrees, ok := marker.CoarseOrientation(set); ok && degrees != 0 {
		rotated := imgproc.RotateQuadrant(img, degrees)
		img.Close()
		img = rotated
		p.saveQC(qcBase, "rotated", img)

		// Marker positions are stale after the rotation; decode again,
		// keeping any sample fields found before.
		sample := set.Sample
		set = p.decoder.DecodeBest(img)
		set.Sample = sample.Merge(set.Sample)
		log.WithField("degrees", degrees).Debug("coarse orientation corrected")
	}

	// Fine alignment from the marker pair geometry.
	if fit, ok := marker.FitRotation(set); ok {
		if fit.Residual > alignmentTolerance {
			log.WithField("residual", fit.Residual).Warn("inconsistent marker geometry")
			rec.Issue = IssuePoorAlignment
			return rec
		}
		aligned := imgproc.RotateBound(img, fit.Angle)
		img.Close()
		img = aligned
		p.saveQC(qcBase, "aligned_box", img)
		log.WithFields(logrus.Fields{
			"angle": fit.Angle,
			"pairs": fit.Pairs,
		}).Debug("template aligned")

		if math.Abs(fit.Angle) > redecodeAngle {
			sample := set.Sample
			set = p.decoder.DecodeBest(img)
			set.Sample = sample.Merge(set.Sample)

			if refit, ok := marker.FitRotation(set); ok && math.Abs(refit.Angle) > alignmentTolerance {
				log.WithField("angle", refit.Angle).Warn("alignment did not converge")
				rec.Issue = IssuePoorAlignment
				return rec
			}
		}
	}

	// Strip box from the corner markers.
	box, err := marker.FindStripBox(set, p.cfg.QRCodeBorder, img.Cols(), img.Rows())
	if err != nil {
		log.WithError(err).Warn("strip box extraction failed")
		rec.Issue = IssueBarcodeExtractionFailed
		return rec
	}
	if p.cfg.QC {
		annotated := img.Clone()
		qcimg.DrawRect(&annotated, box.Rect, qcimg.BandColor(0))
		p.saveQC(qcBase, "box", annotated)
		annotated.Close()
	}

	// Sample identifier, with OCR rescue for hand-labeled strips.
	sample := set.Sample
	if sample.FID == "" || p.cfg.ForceFIDSearch {
		sample = sample.Merge(p.rescueFID(img, box.Rect))
	}
	rec.FID = sample.FID
	rec.FIDNum = marker.NumericFID(sample.FID)
	rec.Manufacturer = sample.Manufacturer
	rec.Plate = sample.Plate
	rec.Well = sample.Well
	rec.User = sample.User
	if rec.FID == "" {
		// Not fatal: hand-annotated strips can be matched up later.
		log.Warn("no FID; continuing with the analysis")
		rec.Issue = IssueFIDExtractionFailed
	}

	// Segment the strip out of the box.
	boxRegion := img.Region(box.Rect.ToImageRect())
	boxImg := boxRegion.Clone()
	boxRegion.Close()
	defer boxImg.Close()
	boxGray := imgproc.ToGray(boxImg)
	defer boxGray.Close()

	stripGray, strip, err := sensor.ExtractStrip(boxGray, boxImg)
	if err != nil {
		log.WithError(err).Warn("strip extraction failed")
		rec.Issue = IssueBarcodeExtractionFailed
		return rec
	}
	defer func() { stripGray.Close(); strip.Close() }()
	p.saveQC(qcBase, "strip_gray_aligned", stripGray)

	// Orientation correction inside the box.
	strategies := p.orientationStrategies(filename)
	if len(strategies) > 0 {
		corrector := orientation.NewCorrector(strategies...)
		newGray, newStrip, decisions := corrector.Correct(stripGray, strip)
		stripGray.Close()
		strip.Close()
		stripGray, strip = newGray, newStrip
		for _, d := range decisions {
			log.WithFields(logrus.Fields{
				"method":     d.Method,
				"rotated":    d.Rotate,
				"confidence": d.Confidence,
			}).Debug("orientation strategy")
		}
		p.saveQC(qcBase, "strip_gray_oriented", stripGray)
	}

	// Locate the measurement window.
	var res sensor.Result
	if p.cfg.PerformSensorSearch {
		res, err = sensor.Locate(stripGray, sensor.LocateParams{
			Center:           p.cfg.SensorCenter,
			Size:             p.cfg.SensorSize,
			SearchArea:       p.cfg.SensorSearchArea,
			ExpectedRelative: p.cfg.PeakExpectedRelative,
			ControlIndex:     p.cfg.ControlBandIndex,
			MinBarWidth:      5,
		})
	} else {
		res, err = sensor.Extract(stripGray, p.cfg.SensorCenter, p.cfg.SensorSize)
	}
	if err != nil {
		log.WithError(err).Warn("sensor extraction failed")
		rec.Issue = IssueSensorExtractionFailed
		return rec
	}
	defer res.Window.Close()
	rec.SensorScore = res.Score
	p.saveQC(qcBase, "sensor", res.Window)
	log.WithFields(logrus.Fields{
		"coords": res.Coords,
		"score":  res.Score,
	}).Debug("sensor located")

	if res.Score < p.cfg.MinSensorScore {
		log.WithField("score", res.Score).Warn("sensor score below minimum")
		rec.Issue = IssueSensorExtractionFailed
		return rec
	}

	// Quantify the bands, retrying with a narrower peak width for
	// strips with thin bands.
	analysis := p.quantify(res.Window)
	if analysis == nil {
		log.Warn("band quantification failed")
		rec.Issue = IssueBandQuantificationFailed
		return rec
	}
	for name, band := range analysis.Bands {
		rec.Bands[name] = BandResult{
			Detected: true,
			Signal:   band.Signal,
			Ratio:    band.Normalized,
		}
	}
	if p.cfg.QC {
		if p.cfg.SubtractBackground {
			if err := qcimg.SaveBackgroundPlot(p.resultsDir, qcBase, "peak_background_estimation",
				analysis, p.cfg.SensorBorder[0], p.cfg.BackgroundOffset); err != nil {
				log.WithError(err).Debug("background plot failed")
			}
		}
		if err := qcimg.SaveProfilePlot(p.resultsDir, qcBase, "peak_analysis",
			analysis, p.cfg.SensorBorder[0], p.cfg.BandNames); err != nil {
			log.WithError(err).Debug("profile plot failed")
		}
		if err := qcimg.SaveOverlay(p.resultsDir, qcBase, "peak_overlays",
			res.Window, analysis, p.cfg.SensorBorder[1], p.cfg.BandNames); err != nil {
			log.WithError(err).Debug("overlay plot failed")
		}
	}

	if _, ok := analysis.Bands[p.cfg.ControlBandName()]; !ok {
		log.Warn("control band missing")
		rec.Issue = IssueControlBandMissing
		return rec
	}

	log.WithFields(logrus.Fields{
		"fid":   rec.FID,
		"bands": len(analysis.Bands),
	}).Info("processed")
	return rec
}

// orientationStrategies assembles the strip orientation vote chain for
// one input file. RAW frames loaded without the auto stretch keep
// their flat native contrast, so the circle detector gets a percentile
// stretch first.
func (p *Processor) orientationStrategies(filename string) []orientation.Strategy {
	var strategies []orientation.Strategy
	if p.cfg.TryCorrectOrientation {
		strategies = append(strategies, &orientation.HoughStrategy{
			Rects:   p.cfg.OrientationRects,
			Stretch: imgio.IsRaw(filename) && !p.cfg.RawAutoStretch,
		})
	}
	if p.cfg.TextToSearch != "" {
		strategies = append(strategies, &orientation.OCRStrategy{
			Engine:  p.engine,
			Text:    p.cfg.TextToSearch,
			OnRight: p.cfg.TextOnRight,
		})
	}
	return strategies
}

// quantify runs the band analysis over the peak width ladder and keeps
// the first result containing the control band, falling back to the
// last successful analysis.
func (p *Processor) quantify(window gocv.Mat) *bands.Analysis {
	var last *bands.Analysis
	for _, width := range peakWidths {
		analysis, err := bands.Quantify(window, bands.Params{
			BorderX:          p.cfg.SensorBorder[0],
			BorderY:          p.cfg.SensorBorder[1],
			ThreshFactor:     p.cfg.ThreshFactor,
			PeakWidth:        width,
			Names:            p.cfg.BandNames,
			ExpectedRelative: p.cfg.PeakExpectedRelative,
			ControlIndex:     p.cfg.ControlBandIndex,
			SubtractBg:       p.cfg.SubtractBackground,
			BgOffset:         p.cfg.BackgroundOffset,
			EdgeFraction:     p.cfg.EdgeFraction,
		})
		if err != nil {
			continue
		}
		last = analysis
		if _, ok := analysis.Bands[p.cfg.ControlBandName()]; ok {
			return analysis
		}
	}
	return last
}

// rescueFID runs OCR on the strip box and the area above it, where some
// templates carry a printed label with the sample identifier.
func (p *Processor) rescueFID(img gocv.Mat, box geometry.RectInt) marker.SampleInfo {
	top := box.Y - fidLabelMargin
	if top < 0 {
		top = 0
	}
	area := geometry.RectInt{
		X: box.X, Y: top,
		Width: box.Width, Height: box.Y + box.Height - top,
	}.Clamp(img.Cols(), img.Rows())
	if area.Empty() {
		return marker.SampleInfo{}
	}

	region := img.Region(area.ToImageRect())
	defer region.Close()
	gray := imgproc.ToGray(region)
	defer gray.Close()
	return marker.RescueSampleInfo(p.engine, gray)
}

// saveQC writes a QC image when enabled; failures are logged only.
func (p *Processor) saveQC(basename, stage string, img gocv.Mat) {
	if !p.cfg.QC {
		return
	}
	if err := qcimg.Save(p.resultsDir, basename, stage, img); err != nil {
		p.log.WithError(err).WithField("stage", stage).Debug("QC image failed")
	}
}
