// Package pipeline runs the full analysis of a single strip photograph
// and reduces every failure mode to an issue code, so a batch never
// stops on a bad image.
package pipeline

import "strconv"

// Issue encodes why an image could not be fully quantified.
type Issue int

const (
	IssueNone Issue = iota
	IssueBarcodeExtractionFailed
	IssueFIDExtractionFailed
	IssuePoorAlignment
	IssueSensorExtractionFailed
	IssueBandQuantificationFailed
	IssueControlBandMissing

	// IssueUnrecoverable marks faults outside the taxonomy, such as a
	// file that cannot be read at all.
	IssueUnrecoverable Issue = -1
)

// String implements fmt.Stringer.
func (i Issue) String() string {
	switch i {
	case IssueNone:
		return "none"
	case IssueBarcodeExtractionFailed:
		return "barcode extraction failed"
	case IssueFIDExtractionFailed:
		return "FID extraction failed"
	case IssuePoorAlignment:
		return "poor alignment"
	case IssueSensorExtractionFailed:
		return "sensor extraction failed"
	case IssueBandQuantificationFailed:
		return "band quantification failed"
	case IssueControlBandMissing:
		return "control band missing"
	default:
		return "unrecoverable failure"
	}
}

// CSVValue returns the numeric code written to the results table.
// Unrecoverable failures serialize as 7, one past the taxonomy.
func (i Issue) CSVValue() string {
	if i == IssueUnrecoverable {
		return "7"
	}
	return strconv.Itoa(int(i))
}
