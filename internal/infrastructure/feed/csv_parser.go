// Package feed reads delimited source feeds into records for identity resolution.
package feed

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// Parser reads a delimited feed row by row
type Parser struct {
	delimiter  rune
	lazyQuotes bool
	trimSpace  bool
	decoder    encoding.Encoding
	columns    []string
	headerMap  map[string]int
	line       int
	reader     *csv.Reader
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) ParserOption {
	return func(p *Parser) {
		p.delimiter = d
	}
}

// WithLazyQuotes enables lazy quote handling
func WithLazyQuotes(lazy bool) ParserOption {
	return func(p *Parser) {
		p.lazyQuotes = lazy
	}
}

// WithTrimSpace trims leading and trailing whitespace from every field
func WithTrimSpace(trim bool) ParserOption {
	return func(p *Parser) {
		p.trimSpace = trim
	}
}

// WithEncoding decodes the feed from enc (e.g. charmap.ISO8859_1) instead of
// requiring UTF-8.
func WithEncoding(enc encoding.Encoding) ParserOption {
	return func(p *Parser) {
		p.decoder = enc
	}
}

// WithColumns names the columns of a feed that has no header row
func WithColumns(columns ...string) ParserOption {
	return func(p *Parser) {
		p.columns = columns
	}
}

// NewParser creates a parser over r. Unless WithColumns is given, the first row is
// read as the header.
func NewParser(r io.Reader, opts ...ParserOption) (*Parser, error) {
	p := &Parser{
		delimiter:  ',',
		lazyQuotes: true,
		trimSpace:  true,
		headerMap:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.decoder != nil {
		r = transform.NewReader(r, p.decoder.NewDecoder())
	}
	buf := bufio.NewReader(r)

	// UTF-8 BOM
	if head, _ := buf.Peek(3); len(head) == 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		_, _ = buf.Discard(3)
	}

	sample, err := buf.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	if len(sample) == 0 {
		return nil, ErrEmptyFile
	}
	if !utf8.Valid(trimPartialRune(sample)) {
		return nil, ErrInvalidEncoding
	}

	p.reader = csv.NewReader(buf)
	p.reader.Comma = p.delimiter
	p.reader.LazyQuotes = p.lazyQuotes
	p.reader.TrimLeadingSpace = p.trimSpace
	p.reader.FieldsPerRecord = -1

	if len(p.columns) > 0 {
		p.index(p.columns)
		return p, nil
	}
	if err := p.parseHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

// trimPartialRune drops a rune cut off at the end of a peeked sample
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if r, _ := utf8.DecodeLastRune(b); r != utf8.RuneError {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func (p *Parser) parseHeader() error {
	header, err := p.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	p.line, _ = p.reader.FieldPos(0)

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = p.clean(h)
	}
	p.index(columns)
	return nil
}

func (p *Parser) index(columns []string) {
	p.columns = columns
	for i, c := range columns {
		p.headerMap[c] = i
	}
}

func (p *Parser) clean(v string) string {
	if p.trimSpace {
		return strings.TrimSpace(v)
	}
	return v
}

// Columns returns the column names
func (p *Parser) Columns() []string {
	return p.columns
}

// HasColumn reports whether the feed has column name
func (p *Parser) HasColumn(name string) bool {
	_, ok := p.headerMap[name]
	return ok
}

// RequireColumns returns ErrMissingColumn naming every absent column
func (p *Parser) RequireColumns(names ...string) error {
	var missing []string
	for _, n := range names {
		if n != "" && !p.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// Row is one parsed row and its 1-based line number
type Row struct {
	Line int
	Data map[string]string
}

// Get returns the value of column, empty when absent
func (r *Row) Get(column string) string {
	return r.Data[column]
}

// IsEmpty reports whether every field is empty
func (r *Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// ReadRow returns the next row or io.EOF. Line numbers count blank lines, which the
// reader skips. Missing trailing fields read as empty.
func (p *Parser) ReadRow() (*Row, error) {
	fields, err := p.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			p.line = parseErr.StartLine
		}
		return nil, &RowError{Line: p.line, Code: ErrCodeMalformedRow, Message: err.Error()}
	}
	p.line, _ = p.reader.FieldPos(0)

	row := &Row{Line: p.line, Data: make(map[string]string, len(p.columns))}
	for i, c := range p.columns {
		if i < len(fields) {
			row.Data[c] = p.clean(fields[i])
		} else {
			row.Data[c] = ""
		}
	}
	return row, nil
}

// Line returns the line of the last row read
func (p *Parser) Line() int {
	return p.line
}
