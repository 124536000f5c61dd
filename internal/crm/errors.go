package crm

import "errors"

var (
	ErrNotFound     = errors.New("crm: not found")
	ErrInvalidInput = errors.New("crm: invalid input")
	ErrConflict     = errors.New("crm: resource conflict")
)
