package gbp

import "errors"

// Sentinel errors surfaced by the prediction engine. Callers match them with
// errors.Is; wrapped messages carry the offending values.
var (
	//ErrFeatureCountMismatch reports a row that refers to more columns than the model expects.
	ErrFeatureCountMismatch = errors.New("feature count mismatch")

	//ErrUnsupportedOperation reports an operation that cannot be carried out on the given
	//matrix, such as contribution computation on column-split data.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	//ErrInvalidRange reports a tree range outside [0, NumTrees] or with begin > end.
	ErrInvalidRange = errors.New("invalid tree range")

	//ErrMalformedInput reports an adapter buffer description inconsistent with its declared shape.
	ErrMalformedInput = errors.New("malformed input")

	//ErrGroupSizeMismatch reports a column-split collective invoked with inconsistent
	//worker-group state across participants.
	ErrGroupSizeMismatch = errors.New("worker group size mismatch")

	//ErrUnknownPredictor reports a predictor name that was never registered.
	ErrUnknownPredictor = errors.New("unknown predictor")
)
