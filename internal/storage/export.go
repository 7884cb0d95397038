package storage

import (
	"encoding/json"
	"io"

	"gonum.org/v1/gonum/mat"
)

type ExportData struct {
	Run      RunMetadata `json:"run"`
	NumModes int         `json:"num_modes"`
	// Units of Matrix entries: contrast per nm² of aberration.
	Units  string      `json:"units"`
	Matrix [][]float64 `json:"matrix"`
}

// ExportJSON writes the run metadata and its full matrix as indented JSON.
func ExportJSON(w io.Writer, meta RunMetadata, m mat.Matrix) error {
	r, c := m.Dims()
	data := ExportData{
		Run:      meta,
		NumModes: r,
		Units:    "contrast/nm^2",
		Matrix:   make([][]float64, r),
	}
	for i := range data.Matrix {
		row := make([]float64, c)
		for j := range row {
			row[j] = m.At(i, j)
		}
		data.Matrix[i] = row
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
