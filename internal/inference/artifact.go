// Package inference implements the backends that run the pre-trained
// forecasting model: a native evaluator for exported model artifacts and a
// client for a remote model server.
package inference

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CurrentFormatVersion is the artifact layout the native evaluator reads.
// Older artifacts are upgraded by Normalize right after decoding.
const CurrentFormatVersion = 2

// Artifact is a model exported as a Keras-style layer list with weights.
type Artifact struct {
	FormatVersion int         `json:"format_version"`
	KerasVersion  string      `json:"keras_version,omitempty"`
	Name          string      `json:"name,omitempty"`
	StepsIn       int         `json:"n_steps_in,omitempty"`
	StepsOut      int         `json:"n_steps_out,omitempty"`
	Features      []string    `json:"features,omitempty"`
	Layers        []LayerSpec `json:"layers"`
}

// LayerSpec is one serialized layer. Config and weights are kept raw until
// the layer is compiled so that normalization can edit attributes without
// touching weights.
type LayerSpec struct {
	ClassName string                     `json:"class_name"`
	Name      string                     `json:"name,omitempty"`
	Config    map[string]json.RawMessage `json:"config,omitempty"`
	Weights   map[string]json.RawMessage `json:"weights,omitempty"`
}

// obsoleteAttributes are layer config keys written by older exporters that
// the current layout no longer carries. time_major in particular was dropped
// from recurrent layers and makes newer loaders reject the artifact.
var obsoleteAttributes = map[string][]string{
	"*":    {"dtype", "batch_input_shape", "trainable", "reset_after"},
	"LSTM": {"time_major", "implementation", "unroll"},
}

// inferenceNoOps are layers that only act during training.
var inferenceNoOps = map[string]bool{
	"Dropout":                true,
	"SpatialDropout1D":       true,
	"GaussianNoise":          true,
	"GaussianDropout":        true,
	"ActivityRegularization": true,
}

// NormalizeReport lists what Normalize changed.
type NormalizeReport struct {
	FromVersion        int
	StrippedAttributes []string
	RemovedLayers      []string
}

// Changed reports whether normalization modified the artifact.
func (r NormalizeReport) Changed() bool {
	return r.FromVersion != CurrentFormatVersion || len(r.StrippedAttributes) > 0 || len(r.RemovedLayers) > 0
}

// Normalize upgrades a decoded artifact to CurrentFormatVersion in place.
//
// Version 0 (unversioned) and 1 artifacts have obsolete layer attributes
// stripped and training-only layers removed. Weights are never modified.
// Artifacts newer than CurrentFormatVersion are rejected.
func Normalize(a *Artifact) (NormalizeReport, error) {
	report := NormalizeReport{FromVersion: a.FormatVersion}

	switch {
	case a.FormatVersion > CurrentFormatVersion:
		return report, fmt.Errorf("artifact format version %d is newer than supported version %d",
			a.FormatVersion, CurrentFormatVersion)
	case a.FormatVersion == CurrentFormatVersion:
		return report, nil
	}

	kept := a.Layers[:0]
	for i, l := range a.Layers {
		label := layerLabel(i, l)
		if inferenceNoOps[l.ClassName] {
			report.RemovedLayers = append(report.RemovedLayers, label)
			continue
		}

		keys := append([]string{}, obsoleteAttributes["*"]...)
		keys = append(keys, obsoleteAttributes[l.ClassName]...)
		for _, k := range keys {
			if _, ok := l.Config[k]; ok {
				delete(l.Config, k)
				report.StrippedAttributes = append(report.StrippedAttributes, label+"."+k)
			}
		}

		// TimeDistributed wraps its layer config one level down.
		if inner, ok := l.Config["layer"]; ok {
			cleaned, stripped, err := stripWrapped(inner, keys)
			if err != nil {
				return report, fmt.Errorf("%s: %w", label, err)
			}
			l.Config["layer"] = cleaned
			for _, k := range stripped {
				report.StrippedAttributes = append(report.StrippedAttributes, label+".layer."+k)
			}
		}
		kept = append(kept, l)
	}
	a.Layers = kept

	sort.Strings(report.StrippedAttributes)
	a.FormatVersion = CurrentFormatVersion
	return report, nil
}

func stripWrapped(raw json.RawMessage, keys []string) (json.RawMessage, []string, error) {
	var inner struct {
		ClassName string                     `json:"class_name"`
		Config    map[string]json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, nil, fmt.Errorf("decode wrapped layer: %w", err)
	}
	keys = append(keys, obsoleteAttributes[inner.ClassName]...)

	var stripped []string
	for _, k := range keys {
		if _, ok := inner.Config[k]; ok {
			delete(inner.Config, k)
			stripped = append(stripped, k)
		}
	}
	out, err := json.Marshal(inner)
	if err != nil {
		return nil, nil, err
	}
	return out, stripped, nil
}

func layerLabel(i int, l LayerSpec) string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("%s#%d", l.ClassName, i)
}

// activationKeys are the layer config fields that name an activation.
var activationKeys = []string{"activation", "recurrent_activation"}

// kerasMajor returns the major version of the exporting Keras. Artifacts
// without keras_version were written by Keras 2.
func kerasMajor(v string) (int, error) {
	if v == "" {
		return 2, nil
	}
	major, err := strconv.Atoi(strings.SplitN(strings.TrimSpace(v), ".", 2)[0])
	if err != nil {
		return 0, fmt.Errorf("invalid keras_version %q", v)
	}
	return major, nil
}

// resolveActivations renames activations whose definition depends on the
// exporting Keras release. Only hard_sigmoid changed: Keras 3 computes
// relu6(x+3)/6 where Keras 2 computed clip(0.2x+0.5, 0, 1).
func resolveActivations(a *Artifact) error {
	major, err := kerasMajor(a.KerasVersion)
	if err != nil {
		return err
	}
	if major < 3 {
		return nil
	}

	for i := range a.Layers {
		l := &a.Layers[i]
		if err := renameHardSigmoid(l.Config); err != nil {
			return fmt.Errorf("%s: %w", layerLabel(i, *l), err)
		}

		inner, ok := l.Config["layer"]
		if !ok {
			continue
		}
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(inner, &wrapped); err != nil {
			return fmt.Errorf("%s: decode wrapped layer: %w", layerLabel(i, *l), err)
		}
		var cfg map[string]json.RawMessage
		if raw, ok := wrapped["config"]; ok {
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return fmt.Errorf("%s: decode wrapped config: %w", layerLabel(i, *l), err)
			}
		}
		if err := renameHardSigmoid(cfg); err != nil {
			return fmt.Errorf("%s.layer: %w", layerLabel(i, *l), err)
		}
		if cfg == nil {
			continue
		}
		if wrapped["config"], err = json.Marshal(cfg); err != nil {
			return err
		}
		if l.Config["layer"], err = json.Marshal(wrapped); err != nil {
			return err
		}
	}
	return nil
}

func renameHardSigmoid(cfg map[string]json.RawMessage) error {
	for _, k := range activationKeys {
		raw, ok := cfg[k]
		if !ok {
			continue
		}
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if name == "hard_sigmoid" {
			cfg[k] = json.RawMessage(strconv.Quote(hardSigmoidKeras3))
		}
	}
	return nil
}
