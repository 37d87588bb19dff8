package feed

import (
	"errors"
	"fmt"
)

// Row error codes
const (
	ErrCodeMalformedRow = "ERR_FEED_MALFORMED_ROW"
	ErrCodeMissingKey   = "ERR_FEED_MISSING_KEY"
)

var (
	// ErrEmptyFile is returned when the feed has no content
	ErrEmptyFile = errors.New("feed file is empty")

	// ErrInvalidEncoding is returned when the feed is not valid UTF-8 and no decoder was set
	ErrInvalidEncoding = errors.New("feed is not valid UTF-8")

	// ErrMissingHeader is returned when the feed has no header row
	ErrMissingHeader = errors.New("feed missing header row")

	// ErrMissingColumn is returned when the layout names a column the feed does not have
	ErrMissingColumn = errors.New("feed missing column")
)

// RowError describes a row that could not be turned into a record
type RowError struct {
	RecordID string
	Line     int
	Column   string
	Code     string
	Message  string
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s, column '%s': %s", e.RecordID, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.RecordID, e.Message)
}
