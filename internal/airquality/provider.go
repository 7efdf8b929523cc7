package airquality

import (
	"context"
	"time"
)

// Model is a pre-trained sequence-to-sequence regressor. Predict takes one
// scaled window of StepsIn rows and returns StepsOut scaled rows with the
// same feature order and width.
type Model interface {
	Predict(ctx context.Context, window InputWindow) ([][]float64, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(ctx context.Context, window InputWindow) ([][]float64, error)

// Predict calls f.
func (f ModelFunc) Predict(ctx context.Context, window InputWindow) ([][]float64, error) {
	return f(ctx, window)
}

// Source loads the history table, ordered ascending by time.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]Observation, error)
}

// Store is the contract the in-memory history store satisfies.
type Store interface {
	Replace(series []Observation)
	All() []Observation
	Tail(n int) []Observation
	Latest() (Observation, error)
	Range(from, to time.Time) ([]Observation, error)
}
