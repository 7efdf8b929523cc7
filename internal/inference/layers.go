package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// shape is the per-sample shape flowing between layers. steps is 0 for a
// flat vector.
type shape struct {
	steps int
	width int
}

func (s shape) String() string {
	if s.steps == 0 {
		return fmt.Sprintf("(%d)", s.width)
	}
	return fmt.Sprintf("(%d, %d)", s.steps, s.width)
}

func (s shape) size() int {
	if s.steps == 0 {
		return s.width
	}
	return s.steps * s.width
}

// tensor holds one sample. A flat vector is a single row with seq false.
type tensor struct {
	rows [][]float64
	seq  bool
}

func (t tensor) flat() []float64 {
	var out []float64
	for _, r := range t.rows {
		out = append(out, r...)
	}
	return out
}

// layer is a compiled inference step. Shapes are checked at compile time so
// forward never fails.
type layer interface {
	forward(x tensor) tensor
}

var errUnsupported = errors.New("unsupported")

// compileLayer builds the runtime layer for spec given its input shape.
func compileLayer(spec LayerSpec, in shape) (layer, shape, error) {
	switch spec.ClassName {
	case "InputLayer":
		return identityLayer{}, in, nil
	case "LSTM":
		return compileLSTM(spec, in)
	case "Dense":
		return compileDense(spec, in)
	case "TimeDistributed":
		return compileTimeDistributed(spec, in)
	case "RepeatVector":
		return compileRepeatVector(spec, in)
	case "Flatten":
		if in.steps == 0 {
			return identityLayer{}, in, nil
		}
		return flattenLayer{}, shape{width: in.size()}, nil
	case "Reshape":
		return compileReshape(spec, in)
	default:
		if inferenceNoOps[spec.ClassName] {
			return identityLayer{}, in, nil
		}
		return nil, shape{}, fmt.Errorf("%w layer class %q", errUnsupported, spec.ClassName)
	}
}

// decodeConfig decodes the layer config into v. Unknown keys are ignored.
func decodeConfig(config map[string]json.RawMessage, v any) error {
	if len(config) == 0 {
		return nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func decodeMatrix(weights map[string]json.RawMessage, name string, rows, cols int) ([][]float64, error) {
	raw, ok := weights[name]
	if !ok {
		return nil, fmt.Errorf("missing weight %q", name)
	}
	var m [][]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode weight %q: %w", name, err)
	}
	if len(m) != rows {
		return nil, fmt.Errorf("weight %q has %d rows, want %d", name, len(m), rows)
	}
	for i, r := range m {
		if len(r) != cols {
			return nil, fmt.Errorf("weight %q row %d has %d columns, want %d", name, i, len(r), cols)
		}
		for _, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("weight %q contains a non-finite value", name)
			}
		}
	}
	return m, nil
}

func decodeVector(weights map[string]json.RawMessage, name string, n int) ([]float64, error) {
	raw, ok := weights[name]
	if !ok {
		return nil, fmt.Errorf("missing weight %q", name)
	}
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode weight %q: %w", name, err)
	}
	if len(v) != n {
		return nil, fmt.Errorf("weight %q has length %d, want %d", name, len(v), n)
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("weight %q contains a non-finite value", name)
		}
	}
	return v, nil
}

type activation func(float64) float64

// hardSigmoidKeras3 is the internal name of hard_sigmoid as Keras 3 defines
// it. See resolveActivations.
const hardSigmoidKeras3 = "hard_sigmoid_keras3"

func lookupActivation(name, fallback string) (activation, error) {
	if name == "" {
		name = fallback
	}
	switch name {
	case "linear":
		return func(x float64) float64 { return x }, nil
	case "relu":
		return func(x float64) float64 { return math.Max(0, x) }, nil
	case "tanh":
		return math.Tanh, nil
	case "sigmoid":
		return func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }, nil
	case "hard_sigmoid":
		return func(x float64) float64 { return math.Min(1, math.Max(0, 0.2*x+0.5)) }, nil
	case hardSigmoidKeras3:
		return func(x float64) float64 { return math.Min(6, math.Max(0, x+3)) / 6 }, nil
	case "softplus":
		return func(x float64) float64 { return math.Log1p(math.Exp(x)) }, nil
	default:
		return nil, fmt.Errorf("%w activation %q", errUnsupported, name)
	}
}

type identityLayer struct{}

func (identityLayer) forward(x tensor) tensor { return x }

type flattenLayer struct{}

func (flattenLayer) forward(x tensor) tensor {
	return tensor{rows: [][]float64{x.flat()}}
}

// lstmLayer follows the Keras gate layout: kernel columns are ordered
// input, forget, cell, output.
type lstmLayer struct {
	units           int
	kernel          [][]float64
	recurrent       [][]float64
	bias            []float64
	act             activation
	recurrentAct    activation
	returnSequences bool
}

type lstmConfig struct {
	Units               int    `json:"units"`
	Activation          string `json:"activation"`
	RecurrentActivation string `json:"recurrent_activation"`
	UseBias             *bool  `json:"use_bias"`
	ReturnSequences     bool   `json:"return_sequences"`
	ReturnState         bool   `json:"return_state"`
	GoBackwards         bool   `json:"go_backwards"`
	Stateful            bool   `json:"stateful"`
}

func compileLSTM(spec LayerSpec, in shape) (layer, shape, error) {
	if in.steps == 0 {
		return nil, shape{}, fmt.Errorf("LSTM needs a sequence input, got %s", in)
	}
	var cfg lstmConfig
	if err := decodeConfig(spec.Config, &cfg); err != nil {
		return nil, shape{}, err
	}
	switch {
	case cfg.Units <= 0:
		return nil, shape{}, fmt.Errorf("LSTM units must be positive, got %d", cfg.Units)
	case cfg.GoBackwards:
		return nil, shape{}, fmt.Errorf("%w LSTM option go_backwards", errUnsupported)
	case cfg.Stateful:
		return nil, shape{}, fmt.Errorf("%w LSTM option stateful", errUnsupported)
	case cfg.ReturnState:
		return nil, shape{}, fmt.Errorf("%w LSTM option return_state", errUnsupported)
	}

	act, err := lookupActivation(cfg.Activation, "tanh")
	if err != nil {
		return nil, shape{}, err
	}
	recAct, err := lookupActivation(cfg.RecurrentActivation, "sigmoid")
	if err != nil {
		return nil, shape{}, err
	}

	gates := 4 * cfg.Units
	kernel, err := decodeMatrix(spec.Weights, "kernel", in.width, gates)
	if err != nil {
		return nil, shape{}, err
	}
	recurrent, err := decodeMatrix(spec.Weights, "recurrent_kernel", cfg.Units, gates)
	if err != nil {
		return nil, shape{}, err
	}
	bias := make([]float64, gates)
	if cfg.UseBias == nil || *cfg.UseBias {
		if bias, err = decodeVector(spec.Weights, "bias", gates); err != nil {
			return nil, shape{}, err
		}
	}

	l := &lstmLayer{
		units:           cfg.Units,
		kernel:          kernel,
		recurrent:       recurrent,
		bias:            bias,
		act:             act,
		recurrentAct:    recAct,
		returnSequences: cfg.ReturnSequences,
	}
	if cfg.ReturnSequences {
		return l, shape{steps: in.steps, width: cfg.Units}, nil
	}
	return l, shape{width: cfg.Units}, nil
}

func (l *lstmLayer) forward(x tensor) tensor {
	u := l.units
	h := make([]float64, u)
	c := make([]float64, u)
	z := make([]float64, 4*u)

	var seq [][]float64
	for _, xt := range x.rows {
		copy(z, l.bias)
		for i, xi := range xt {
			for j, w := range l.kernel[i] {
				z[j] += xi * w
			}
		}
		for i, hi := range h {
			for j, w := range l.recurrent[i] {
				z[j] += hi * w
			}
		}
		for k := 0; k < u; k++ {
			ig := l.recurrentAct(z[k])
			fg := l.recurrentAct(z[u+k])
			cand := l.act(z[2*u+k])
			og := l.recurrentAct(z[3*u+k])
			c[k] = fg*c[k] + ig*cand
			h[k] = og * l.act(c[k])
		}
		if l.returnSequences {
			seq = append(seq, append([]float64(nil), h...))
		}
	}

	if l.returnSequences {
		return tensor{rows: seq, seq: true}
	}
	return tensor{rows: [][]float64{h}}
}

// denseLayer applies to the last axis, so a sequence input is transformed
// row by row.
type denseLayer struct {
	kernel [][]float64
	bias   []float64
	act    activation
}

type denseConfig struct {
	Units      int    `json:"units"`
	Activation string `json:"activation"`
	UseBias    *bool  `json:"use_bias"`
}

func compileDense(spec LayerSpec, in shape) (layer, shape, error) {
	return buildDense(spec.Config, spec.Weights, in)
}

func buildDense(config, weights map[string]json.RawMessage, in shape) (layer, shape, error) {
	var cfg denseConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, shape{}, err
	}
	if cfg.Units <= 0 {
		return nil, shape{}, fmt.Errorf("Dense units must be positive, got %d", cfg.Units)
	}
	act, err := lookupActivation(cfg.Activation, "linear")
	if err != nil {
		return nil, shape{}, err
	}
	kernel, err := decodeMatrix(weights, "kernel", in.width, cfg.Units)
	if err != nil {
		return nil, shape{}, err
	}
	bias := make([]float64, cfg.Units)
	if cfg.UseBias == nil || *cfg.UseBias {
		if bias, err = decodeVector(weights, "bias", cfg.Units); err != nil {
			return nil, shape{}, err
		}
	}
	return &denseLayer{kernel: kernel, bias: bias, act: act}, shape{steps: in.steps, width: cfg.Units}, nil
}

func (l *denseLayer) forward(x tensor) tensor {
	out := make([][]float64, len(x.rows))
	for r, row := range x.rows {
		y := append([]float64(nil), l.bias...)
		for i, xi := range row {
			for j, w := range l.kernel[i] {
				y[j] += xi * w
			}
		}
		for j := range y {
			y[j] = l.act(y[j])
		}
		out[r] = y
	}
	return tensor{rows: out, seq: x.seq}
}

func compileTimeDistributed(spec LayerSpec, in shape) (layer, shape, error) {
	if in.steps == 0 {
		return nil, shape{}, fmt.Errorf("TimeDistributed needs a sequence input, got %s", in)
	}
	var cfg struct {
		Layer struct {
			ClassName string                     `json:"class_name"`
			Config    map[string]json.RawMessage `json:"config"`
		} `json:"layer"`
	}
	if err := decodeConfig(spec.Config, &cfg); err != nil {
		return nil, shape{}, err
	}
	if cfg.Layer.ClassName != "Dense" {
		return nil, shape{}, fmt.Errorf("%w TimeDistributed inner layer %q", errUnsupported, cfg.Layer.ClassName)
	}
	return buildDense(cfg.Layer.Config, spec.Weights, in)
}

type repeatLayer struct {
	n int
}

func compileRepeatVector(spec LayerSpec, in shape) (layer, shape, error) {
	if in.steps != 0 {
		return nil, shape{}, fmt.Errorf("RepeatVector needs a flat input, got %s", in)
	}
	var cfg struct {
		N int `json:"n"`
	}
	if err := decodeConfig(spec.Config, &cfg); err != nil {
		return nil, shape{}, err
	}
	if cfg.N <= 0 {
		return nil, shape{}, fmt.Errorf("RepeatVector n must be positive, got %d", cfg.N)
	}
	return repeatLayer{n: cfg.N}, shape{steps: cfg.N, width: in.width}, nil
}

func (l repeatLayer) forward(x tensor) tensor {
	v := x.rows[0]
	out := make([][]float64, l.n)
	for i := range out {
		out[i] = append([]float64(nil), v...)
	}
	return tensor{rows: out, seq: true}
}

type reshapeLayer struct {
	to shape
}

func compileReshape(spec LayerSpec, in shape) (layer, shape, error) {
	var cfg struct {
		TargetShape []int `json:"target_shape"`
	}
	if err := decodeConfig(spec.Config, &cfg); err != nil {
		return nil, shape{}, err
	}

	var to shape
	switch len(cfg.TargetShape) {
	case 1:
		to = shape{width: cfg.TargetShape[0]}
	case 2:
		to = shape{steps: cfg.TargetShape[0], width: cfg.TargetShape[1]}
	default:
		return nil, shape{}, fmt.Errorf("%w Reshape target %v", errUnsupported, cfg.TargetShape)
	}
	if to.width <= 0 || (len(cfg.TargetShape) == 2 && to.steps <= 0) {
		return nil, shape{}, fmt.Errorf("Reshape target %v must be positive", cfg.TargetShape)
	}
	if to.size() != in.size() {
		return nil, shape{}, fmt.Errorf("cannot reshape %s to %s", in, to)
	}
	return reshapeLayer{to: to}, to, nil
}

func (l reshapeLayer) forward(x tensor) tensor {
	flat := x.flat()
	if l.to.steps == 0 {
		return tensor{rows: [][]float64{flat}}
	}
	out := make([][]float64, l.to.steps)
	for i := range out {
		out[i] = flat[i*l.to.width : (i+1)*l.to.width]
	}
	return tensor{rows: out, seq: true}
}
