package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks bad rule, group, backend or format setup.
	// Fatal and returned before any crawling happens.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownFormat is returned when no save function is registered for a format
	ErrUnknownFormat = fmt.Errorf("%w: unknown format", ErrConfiguration)

	// ErrFetch marks a navigation or HTTP failure. The crawl treats the page as empty.
	ErrFetch = errors.New("fetch error")

	// ErrSave marks a failed sink. Returned after the crawl completes.
	ErrSave = errors.New("save error")
)
