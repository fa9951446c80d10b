package gbp

import (
	"fmt"
	"sort"
	"sync"
)

//PredictorBuilder constructs a prediction backend bound to a context and, for
//column-split use, a communicator.
type PredictorBuilder func(ctx Context, comm Communicator) (Predictor, error)

var (
	predictorsMu sync.RWMutex
	predictors   = make(map[string]PredictorBuilder)
)

//RegisterPredictor makes a named backend available to NewPredictor. Backends
//register themselves explicitly, typically from an init function; registering an
//existing name replaces the previous builder.
func RegisterPredictor(name string, builder PredictorBuilder) {
	if name == "" || builder == nil {
		return
	}
	predictorsMu.Lock()
	defer predictorsMu.Unlock()
	predictors[name] = builder
}

//SupportedPredictors returns the sorted names of the registered backends; used in
//error messages and for validation.
func SupportedPredictors() []string {
	predictorsMu.RLock()
	defer predictorsMu.RUnlock()
	names := make([]string, 0, len(predictors))
	for name := range predictors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//NewPredictor constructs the backend registered under name.
func NewPredictor(name string, ctx Context, comm Communicator) (Predictor, error) {
	predictorsMu.RLock()
	builder, ok := predictors[name]
	predictorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q, supported: %v", ErrUnknownPredictor, name, SupportedPredictors())
	}
	return builder(ctx, comm)
}

func init() {
	RegisterPredictor("cpu", func(ctx Context, comm Communicator) (Predictor, error) {
		return NewCPUPredictor(ctx, comm), nil
	})
}
