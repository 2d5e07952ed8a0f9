package domain

import "errors"

var (
	ErrOutOfBounds     = errors.New("cell is outside the grid")
	ErrCellOccupied    = errors.New("cell is not empty")
	ErrUnknownSite     = errors.New("site label is not registered")
	ErrInvalidLabel    = errors.New("invalid site label")
	ErrTaskNotFound    = errors.New("task not found")
	ErrDuplicateTask   = errors.New("task id already exists")
	ErrMalformedRecord = errors.New("malformed task record")
	ErrNotRunning      = errors.New("simulation is not running")
	ErrAlreadyRunning  = errors.New("simulation is already running")
)
