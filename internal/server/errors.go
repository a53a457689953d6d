package server

import "errors"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingSyncService    = errors.New("sync service dependency required")
	errMissingDeviceRegistry = errors.New("device registry dependency required")
)
