package main

import (
	"errors"
)

var (
	errInvalidPageSize = errors.New("scan.page_size must be positive")
	errInvalidDB       = errors.New("view.db must not be negative")
)
