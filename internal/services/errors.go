package services

type refreshInProgressError struct{}

func (refreshInProgressError) Error() string {
	return "another refresh is replacing the rollup tables"
}

func (refreshInProgressError) IsTransient() bool {
	return true
}

// ErrRefreshInProgress is returned when the rollup lock is held by a concurrent refresh.
var ErrRefreshInProgress error = refreshInProgressError{}

// transient reports whether err, or anything it wraps, says it is worth retrying.
func transient(err error) bool {
	for err != nil {
		if t, ok := err.(interface{ IsTransient() bool }); ok {
			return t.IsTransient()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
