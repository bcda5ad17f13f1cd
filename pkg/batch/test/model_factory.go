package test

import (
	"strconv"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// NewTestStepExecution creates a STARTED StepExecution for testing.
func NewTestStepExecution(stepName string) *model.StepExecution {
	se := model.NewStepExecution(stepName)
	se.MarkAsStarted()
	return se
}

// IntIDs returns the decimal identifiers of the given items, as recorded in PersistentUserData.
func IntIDs(items ...int) []string {
	ids := make([]string, len(items))
	for i, v := range items {
		ids[i] = strconv.Itoa(v)
	}
	return ids
}

// Range returns the integers from..to inclusive.
func Range(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
