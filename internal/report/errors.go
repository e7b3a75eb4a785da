package report

import "errors"

var (
	ErrMissingTeacher = errors.New("teacher account id is required")
	ErrMissingStudent = errors.New("student account id is required")
)
