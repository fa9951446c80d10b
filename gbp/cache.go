package gbp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

//CacheEntry associates a margin buffer with the matrix it was computed against
//and the number of trees it currently reflects. A boosting loop keeps one entry
//per matrix and, after appending trees, pays only for the new ones instead of
//re-predicting the whole ensemble. The entry is exclusively owned by the caller:
//two concurrent updates of the same entry are not allowed.
type CacheEntry struct {
	matrix      RowMatrix
	trees       int
	Predictions *mat.Dense
}

//NewCacheEntry binds a fresh cache entry to a matrix. The buffer is allocated on
//the first update.
func NewCacheEntry(matrix RowMatrix) *CacheEntry {
	return &CacheEntry{matrix: matrix}
}

//Trees returns the tree count the cached predictions currently reflect.
func (entry *CacheEntry) Trees() int {
	return entry.trees
}

//Valid reports whether the entry may serve predictions for the given matrix.
func (entry *CacheEntry) Valid(matrix RowMatrix) bool {
	return entry.matrix == matrix
}

//Update brings the cached buffer up to the model's current tree count by
//accumulating only the trees appended since the previous update. The result is
//identical, within floating tolerance, to re-predicting over [0, NumTrees) from
//scratch.
func (entry *CacheEntry) Update(pred Predictor, model *Model) error {
	if model.NumTrees() < entry.trees {
		return fmt.Errorf("%w: cache reflects %d trees, model has %d", ErrInvalidRange, entry.trees, model.NumTrees())
	}
	if entry.Predictions == nil {
		entry.Predictions = pred.InitOutputs(entry.matrix.Rows(), model)
	}
	if err := pred.PredictBatch(entry.matrix, entry.Predictions, model, entry.trees, model.NumTrees()); err != nil {
		return err
	}
	entry.trees = model.NumTrees()
	return nil
}
