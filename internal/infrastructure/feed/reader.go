package feed

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/recordlink/backend/internal/domain/record"
)

// Layout maps the columns of a feed onto source records
type Layout struct {
	// Name prefixes record identifiers, e.g. "practices.csv:12"
	Name        string
	MappingType string
	KeyColumn   string
	ValueColumn string
	// ActiveColumn is optional; a row is inactive when its value is in InactiveValues
	ActiveColumn   string
	InactiveValues []string
}

// Validate checks the layout is usable
func (l Layout) Validate() error {
	if l.Name == "" {
		return errors.New("feed: layout name is required")
	}
	if l.KeyColumn == "" {
		return errors.New("feed: key column is required")
	}
	return nil
}

// Record is one row of a feed
type Record struct {
	id          string
	mappingType string
	keys        []record.KeyValue
	active      bool
	fields      map[string]string
}

func (r *Record) RecordID() string        { return r.id }
func (r *Record) MappingType() string     { return r.mappingType }
func (r *Record) Keys() []record.KeyValue { return r.keys }
func (r *Record) Active() bool            { return r.active }

func (r *Record) Field(name string) (string, bool) {
	v, ok := r.fields[name]
	return v, ok
}

var _ record.SourceRecord = (*Record)(nil)

// Result is the outcome of reading a feed. Rejected rows do not stop the read.
type Result struct {
	Records  []record.SourceRecord
	Rejected []*RowError
}

// Read parses r with layout. Empty rows are skipped; rows that cannot become records
// are returned in Result.Rejected. Structural problems of the feed are returned as error.
func Read(r io.Reader, layout Layout, opts ...ParserOption) (*Result, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	p, err := NewParser(r, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", layout.Name, err)
	}
	if err := p.RequireColumns(layout.KeyColumn, layout.ValueColumn, layout.ActiveColumn); err != nil {
		return nil, fmt.Errorf("%s: %w", layout.Name, err)
	}

	inactive := make([]string, len(layout.InactiveValues))
	for i, v := range layout.InactiveValues {
		inactive[i] = strings.ToUpper(v)
	}

	res := &Result{}
	for {
		row, err := p.ReadRow()
		if err == io.EOF {
			return res, nil
		}

		var rowErr *RowError
		if errors.As(err, &rowErr) {
			rowErr.RecordID = recordID(layout.Name, rowErr.Line)
			res.Rejected = append(res.Rejected, rowErr)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("%s: %w", layout.Name, err)
		}
		if row.IsEmpty() {
			continue
		}

		id := recordID(layout.Name, row.Line)
		key := row.Get(layout.KeyColumn)
		if key == "" {
			res.Rejected = append(res.Rejected, &RowError{
				RecordID: id, Line: row.Line, Column: layout.KeyColumn,
				Code: ErrCodeMissingKey, Message: "key is empty",
			})
			continue
		}

		active := true
		if layout.ActiveColumn != "" {
			active = !slices.Contains(inactive, strings.ToUpper(row.Get(layout.ActiveColumn)))
		}

		kv := record.KeyValue{Key: key}
		if layout.ValueColumn != "" {
			kv.Value = row.Get(layout.ValueColumn)
		}

		res.Records = append(res.Records, &Record{
			id:          id,
			mappingType: layout.MappingType,
			keys:        []record.KeyValue{kv},
			active:      active,
			fields:      row.Data,
		})
	}
}

func recordID(name string, line int) string {
	return fmt.Sprintf("%s:%d", name, line)
}
