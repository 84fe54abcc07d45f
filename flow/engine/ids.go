package engine

import "github.com/google/uuid"

func newExecutionID() string {
	return uuid.NewString()
}
