// Package probmodel defines the interface boundary for the probability
// model the scheduler's ProbValidation/ProbRetrain/UpdateRegime jobs drive.
// The model's own math is out of scope here — the validation, retraining,
// and regime-detection logic are not ported — this core only specifies what
// a model must expose and ships a disabled no-op so the scheduler has
// something real to call.
package probmodel

import "context"

// ValidationResult mirrors the brier/logloss summary a probability-model
// validation pass folds into its metrics store.
type ValidationResult struct {
	Disabled bool
	Brier    float64
	LogLoss  float64
	Symbols  int
}

// RetrainResult mirrors coordinator.prob_retrain()'s per-symbol event count.
type RetrainResult struct {
	Disabled bool
	Events   int
}

// RegimeResult mirrors coordinator.update_regime()'s updated-symbol count.
type RegimeResult struct {
	Updated int
}

// Model is the probability model interface the scheduler depends on.
// Implementations own their own math; this package only ships NoopModel.
type Model interface {
	Validate(ctx context.Context, symbols []string, timeframe string) (ValidationResult, error)
	Retrain(ctx context.Context, symbols []string, timeframe string) (RetrainResult, error)
	UpdateRegime(ctx context.Context, symbols []string) (RegimeResult, error)
}

// NoopModel reports every job as disabled without error, matching a
// disabled-by-default short-circuit rather than failing the scheduler.
type NoopModel struct{}

func (NoopModel) Validate(ctx context.Context, symbols []string, timeframe string) (ValidationResult, error) {
	return ValidationResult{Disabled: true}, nil
}

func (NoopModel) Retrain(ctx context.Context, symbols []string, timeframe string) (RetrainResult, error) {
	return RetrainResult{Disabled: true}, nil
}

func (NoopModel) UpdateRegime(ctx context.Context, symbols []string) (RegimeResult, error) {
	return RegimeResult{}, nil
}
