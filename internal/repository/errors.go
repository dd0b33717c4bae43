package repository

import "errors"

// ErrNotFound is returned by Store.Get when the key has never been written
// (or was deleted). It hides driver-specific signals such as sql.ErrNoRows,
// redis.Nil and pebble.ErrNotFound from the service layer.
var ErrNotFound = errors.New("repository: not found")
