package analysis

import (
	"strconv"

	"github.com/chadmayfield/aquachroma/internal/source"
)

// outputRoot is where the analysis service writes per-run artifacts.
const outputRoot = "data/output"

// Result is one analysis run as shown on the dashboard.
type Result struct {
	Timestamp       int64         `json:"timestamp"`
	Status          source.Status `json:"status"`
	SeaBlueness     *float64      `json:"sea_blueness"`
	CloudCoverage   *float64      `json:"cloud_coverage"`
	OutputDirectory string        `json:"output_directory"`
}

// OutputDirectory returns the artifact directory for a run. The path is a
// naming convention and is not checked against storage.
func OutputDirectory(ts int64) string {
	return outputRoot + "/" + strconv.FormatInt(ts, 10)
}

// FromRow maps a source row to a Result. Night runs carry no metrics.
func FromRow(r source.Row) Result {
	res := Result{
		Timestamp:       r.Timestamp,
		Status:          r.Status,
		SeaBlueness:     r.SeaBlueness,
		CloudCoverage:   r.CloudCoverage,
		OutputDirectory: OutputDirectory(r.Timestamp),
	}
	if r.Status == source.StatusNight {
		res.SeaBlueness = nil
		res.CloudCoverage = nil
	}
	return res
}
