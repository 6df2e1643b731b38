package ensemble

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingPrediction matches every *MissingPredictionError.
	ErrMissingPrediction = errors.New("missing prediction")
	// ErrInvalidDistribution matches every *InvalidDistributionError.
	ErrInvalidDistribution = errors.New("invalid distribution")
	// ErrLabelSpaceMismatch matches every *LabelSpaceMismatchError.
	ErrLabelSpaceMismatch = errors.New("label space mismatch")
	// ErrInvalidConfig is wrapped by configuration validation failures.
	ErrInvalidConfig = errors.New("invalid ensemble config")
)

// MissingPredictionError reports a required model without a prediction for a sample.
type MissingPredictionError struct {
	Task     string
	Model    string
	SampleID string
}

func (e *MissingPredictionError) Error() string {
	return fmt.Sprintf("%s: model %q has no prediction for sample %q", taskPrefix(e.Task), e.Model, e.SampleID)
}

func (e *MissingPredictionError) Is(target error) bool { return target == ErrMissingPrediction }

// InvalidDistributionError reports a malformed probability vector.
type InvalidDistributionError struct {
	Task     string
	Model    string
	SampleID string
	Reason   string
}

func (e *InvalidDistributionError) Error() string {
	return fmt.Sprintf("%s: invalid distribution from model %q for sample %q: %s", taskPrefix(e.Task), e.Model, e.SampleID, e.Reason)
}

func (e *InvalidDistributionError) Is(target error) bool { return target == ErrInvalidDistribution }

// LabelSpaceMismatchError reports a model whose labels disagree with the
// canonical label space. Got holds the offending ordering or the unknown label.
type LabelSpaceMismatchError struct {
	Task     string
	Model    string
	SampleID string
	Want     []string
	Got      []string
}

func (e *LabelSpaceMismatchError) Error() string {
	where := ""
	if e.SampleID != "" {
		where = fmt.Sprintf(" (sample %q)", e.SampleID)
	}
	return fmt.Sprintf("%s: model %q labels [%s] do not match label space [%s]%s",
		taskPrefix(e.Task), e.Model, strings.Join(e.Got, ", "), strings.Join(e.Want, ", "), where)
}

func (e *LabelSpaceMismatchError) Is(target error) bool { return target == ErrLabelSpaceMismatch }

func taskPrefix(task string) string {
	if task == "" {
		return "ensemble"
	}
	return task
}
