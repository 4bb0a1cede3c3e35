package store

import "errors"

// ErrClosed is returned by any operation called after Close.
var ErrClosed = errors.New("store: closed")
