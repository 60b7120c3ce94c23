package main

import "errors"

// userErr marks a command failure as the operator's fault (bad flag,
// invalid config, missing prompt) rather than a system/dependency failure,
// so main can map it to the right exit code (spec §6).
type userErr struct {
	err error
}

func newUserError(err error) error {
	if err == nil {
		return nil
	}
	return &userErr{err: err}
}

func (e *userErr) Error() string { return e.err.Error() }
func (e *userErr) Unwrap() error { return e.err }

func isUserError(err error) bool {
	var ue *userErr
	return errors.As(err, &ue)
}
