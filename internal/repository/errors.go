package repository

import (
	"errors"
	"fmt"
)

// ErrRefreshLocked is returned when another transaction holds the rollup lock.
var ErrRefreshLocked = errors.New("rollup tables are locked by another refresh")

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
