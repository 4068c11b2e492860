package pipeline

import (
	"strconv"
)

// BandResult is the measurement of a single band in one image.
type BandResult struct {
	Detected bool
	Signal   float64
	Ratio    float64
}

// Record is one row of the results table. Every processed file yields
// exactly one Record, whatever went wrong along the way.
type Record struct {
	FID           string
	FIDNum        string
	Filename      string
	Extension     string
	Basename      string
	ISODate       string
	ISOTime       string
	ExpTime       string
	FNumber       string
	FocalLength35 string
	ISOSpeed      string
	Manufacturer  string
	Plate         string
	Well          string
	User          string

	Bands       map[string]BandResult
	SensorScore float64
	Issue       Issue
}

// Header returns the CSV column names for the given band set.
func Header(bandNames []string) []string {
	cols := []string{
		"fid", "fid_num", "filename", "extension", "basename",
		"iso_date", "iso_time", "exp_time", "f_number",
		"focal_length_35_mm", "iso_speed",
		"manufacturer", "plate", "well",
	}
	for _, name := range bandNames {
		cols = append(cols, name, name+"_abs", name+"_ratio")
	}
	return append(cols, "sensor_score", "issue", "user")
}

// Row serializes the record in Header order.
func (r *Record) Row(bandNames []string) []string {
	row := []string{
		r.FID, r.FIDNum, r.Filename, r.Extension, r.Basename,
		r.ISODate, r.ISOTime, r.ExpTime, r.FNumber,
		r.FocalLength35, r.ISOSpeed,
		r.Manufacturer, r.Plate, r.Well,
	}
	for _, name := range bandNames {
		b := r.Bands[name]
		detected := "0"
		if b.Detected {
			detected = "1"
		}
		row = append(row, detected, formatFloat(b.Signal), formatFloat(b.Ratio))
	}
	return append(row, formatFloat(r.SensorScore), r.Issue.CSVValue(), r.User)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
