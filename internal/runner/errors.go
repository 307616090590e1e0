package runner

import "errors"

// Ошибки runner.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotPending — run не в статусе PENDING или уже захвачен другим обработчиком.
	ErrRunNotPending = errors.New("run is not in PENDING status")
)
