package airquality

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbinet/npyio"
)

// LoadScalerParams reads persisted scaler constants from path.
//
// Two formats are accepted, chosen by extension:
//   - .npy: float64 array of shape (2, F) with min in row 0 and scale in
//     row 1, or a flat array of length 2F (min followed by scale).
//   - .json: {"min": [...], "scale": [...]}.
func LoadScalerParams(path string) (ScalerParams, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return loadScalerNPY(path)
	case ".json":
		return loadScalerJSON(path)
	default:
		return ScalerParams{}, &ConfigError{
			Field:   "scaler",
			Message: fmt.Sprintf("unsupported scaler file %q (want .npy or .json)", path),
		}
	}
}

func loadScalerJSON(path string) (ScalerParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScalerParams{}, &ConfigError{Field: "scaler", Message: "read " + path, Err: err}
	}
	var p ScalerParams
	if err := json.Unmarshal(data, &p); err != nil {
		return ScalerParams{}, &ConfigError{Field: "scaler", Message: "decode " + path, Err: err}
	}
	return p, nil
}

func loadScalerNPY(path string) (ScalerParams, error) {
	f, err := os.Open(path)
	if err != nil {
		return ScalerParams{}, &ConfigError{Field: "scaler", Message: "open " + path, Err: err}
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return ScalerParams{}, &ConfigError{Field: "scaler", Message: "read npy header " + path, Err: err}
	}
	if r.Header.Descr.Fortran {
		return ScalerParams{}, &ConfigError{Field: "scaler", Message: path + ": fortran-ordered arrays are not supported"}
	}

	shape := r.Header.Descr.Shape
	var flat []float64
	if err := r.Read(&flat); err != nil {
		return ScalerParams{}, &ConfigError{Field: "scaler", Message: "read npy data " + path, Err: err}
	}

	switch {
	case len(shape) == 2 && shape[0] == 2:
	case len(shape) == 1 && shape[0]%2 == 0:
	default:
		return ScalerParams{}, &ConfigError{
			Field:   "scaler",
			Message: fmt.Sprintf("%s: array shape %v, want (2, F) or (2F,)", path, shape),
		}
	}

	n := len(flat) / 2
	p := ScalerParams{
		Min:   make([]float64, n),
		Scale: make([]float64, n),
	}
	copy(p.Min, flat[:n])
	copy(p.Scale, flat[n:])
	return p, nil
}
