// =============================================================================
// CSV to XLSM Transfer - CSV Parser Module
// =============================================================================
//
// This module loads the downloaded report export into a positional Table.
//
// PARSING PROCESS:
//   1. Read the whole file into memory (exports are a few hundred KB at most)
//   2. For each encoding in priority order:
//      a. Decode the bytes; any undecodable sequence rejects the attempt
//      b. Skip the fixed-format boilerplate lines at the top of the report
//      c. Split records with encoding/csv; the next record is the header
//      d. Accept the attempt if the header has more than one column
//   3. Coerce the identifier column to int64
//
// The fallback order and the acceptance rule are data (Encodings, Acceptable)
// rather than nested error handling, so each can be tested on its own.
//
// =============================================================================

package csvparser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"

	"github.com/shinseikai/csv2xlsm/internal/types"
)

// ErrUnreadable is returned when no encoding yields a usable table. Callers
// treat it as fatal for the run; retrying the same file cannot help.
var ErrUnreadable = errors.New("csv file could not be read with any supported encoding")

// DefaultSkipLines is the number of boilerplate lines preceding the header.
const DefaultSkipLines = 3

// =============================================================================
// ENCODINGS
// =============================================================================

// Encoding is one decode attempt.
type Encoding struct {
	// Name is used in logs.
	Name string

	// Decode converts raw bytes to UTF-8 text, failing on any byte sequence
	// the encoding cannot represent.
	Decode func(data []byte) (string, error)
}

// DefaultEncodings returns the attempt order: the regional 8-bit encoding
// first, then UTF-8, then the Windows locale alias, then less common
// Japanese encodings and finally Latin-1.
//
// NOTE: x/text implements Shift_JIS with the Windows-31J (CP932) table, so
// the "cp932" attempt decodes identically to "shift_jis". It is kept as a
// named step so the order reads the same as the report vendor documents it.
func DefaultEncodings() []Encoding {
	return []Encoding{
		fromTextEncoding("shift_jis", japanese.ShiftJIS),
		{Name: "utf-8", Decode: decodeUTF8},
		fromTextEncoding("cp932", japanese.ShiftJIS),
		fromTextEncoding("euc-jp", japanese.EUCJP),
		fromTextEncoding("iso-2022-jp", japanese.ISO2022JP),
		fromTextEncoding("latin1", charmap.ISO8859_1),
	}
}

// errInvalidSequence marks a decode that had to substitute characters.
var errInvalidSequence = errors.New("invalid byte sequence")

// fromTextEncoding wraps an x/text encoding. The x/text decoders substitute
// U+FFFD for bad input instead of failing, so the substitution itself is the
// failure signal.
func fromTextEncoding(name string, enc encoding.Encoding) Encoding {
	return Encoding{
		Name: name,
		Decode: func(data []byte) (string, error) {
			out, err := enc.NewDecoder().Bytes(data)
			if err != nil {
				return "", err
			}
			if bytes.ContainsRune(out, utf8.RuneError) {
				return "", errInvalidSequence
			}
			return string(out), nil
		},
	}
}

// utf8BOM is stripped when present.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decodeUTF8(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", errInvalidSequence
	}
	return string(data), nil
}

// =============================================================================
// READER
// =============================================================================

// Options controls how the report is parsed.
type Options struct {
	// SkipLines is the number of lines discarded before the header.
	// Default: DefaultSkipLines
	SkipLines int

	// IdentifierHeader is the header text of the column coerced to int64.
	// Empty disables coercion.
	IdentifierHeader string

	// Encodings overrides the attempt order. Default: DefaultEncodings()
	Encodings []Encoding
}

// Reader loads report exports.
type Reader struct {
	opts Options
	log  zerolog.Logger
}

// NewReader creates a Reader. Zero-valued options get their defaults.
func NewReader(opts Options, log zerolog.Logger) *Reader {
	if opts.SkipLines <= 0 {
		opts.SkipLines = DefaultSkipLines
	}
	if len(opts.Encodings) == 0 {
		opts.Encodings = DefaultEncodings()
	}
	return &Reader{
		opts: opts,
		log:  log.With().Str("component", "csvparser").Logger(),
	}
}

// ReadFile loads the CSV at path.
//
// RETURNS:
//   - The parsed table and the name of the encoding that succeeded.
//   - ErrUnreadable (wrapped) when every attempt fails.
func (r *Reader) ReadFile(path string) (*types.Table, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	return r.Parse(data)
}

// Parse runs the encoding attempts over raw file content.
func (r *Reader) Parse(data []byte) (*types.Table, string, error) {
	var attempts []string

	for _, enc := range r.opts.Encodings {
		table, err := r.attempt(enc, data)
		if err != nil {
			r.log.Debug().Str("encoding", enc.Name).Err(err).Msg("encoding attempt failed")
			attempts = append(attempts, fmt.Sprintf("%s: %v", enc.Name, err))
			continue
		}

		r.log.Info().
			Str("encoding", enc.Name).
			Int("columns", table.NumColumns()).
			Int("rows", table.NumRows()).
			Msg("csv loaded")
		return table, enc.Name, nil
	}

	return nil, "", fmt.Errorf("%w (%s)", ErrUnreadable, strings.Join(attempts, "; "))
}

// attempt decodes and parses with a single encoding.
func (r *Reader) attempt(enc Encoding, data []byte) (*types.Table, error) {
	text, err := enc.Decode(data)
	if err != nil {
		return nil, err
	}

	table, err := parseRecords(skipLines(text, r.opts.SkipLines))
	if err != nil {
		return nil, err
	}

	if !Acceptable(table) {
		return nil, fmt.Errorf("only %d column(s) found", table.NumColumns())
	}

	r.coerceIdentifier(table)
	return table, nil
}

// Acceptable is the success predicate for an attempt: a wrongly decoded file
// usually collapses into a single column because the delimiters were lost.
func Acceptable(t *types.Table) bool {
	return t != nil && t.NumColumns() > 1
}

// skipLines drops the first n physical lines.
func skipLines(text string, n int) string {
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			return ""
		}
		text = text[idx+1:]
	}
	return text
}

// parseRecords splits CSV text into a header and data rows. Every cell is
// text; empty cells are null. Rows are padded or truncated to the header
// width.
func parseRecords(text string) (*types.Table, error) {
	reader := csv.NewReader(strings.NewReader(text))

	// Allow variable number of fields per row; the export is ragged when a
	// trailing column is empty.
	reader.FieldsPerRecord = -1

	// Allow lazy quotes; free-text columns carry stray quotes.
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	table := &types.Table{Columns: header}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(table.Rows)+1, err)
		}

		row := make([]types.Value, len(header))
		for i := range row {
			if i < len(record) && record[i] != "" {
				row[i] = types.Text(record[i])
			} else {
				row[i] = types.Null()
			}
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// coerceIdentifier converts the identifier column to int64 cells. Values that
// are not plain integers stay text; the merge stage applies its own
// comma-stripping rule to them.
func (r *Reader) coerceIdentifier(t *types.Table) {
	if r.opts.IdentifierHeader == "" {
		return
	}

	col := -1
	for i, name := range t.Columns {
		if strings.TrimSpace(name) == r.opts.IdentifierHeader {
			col = i
			break
		}
	}
	if col < 0 {
		r.log.Warn().Str("header", r.opts.IdentifierHeader).Msg("identifier column not found; left as text")
		return
	}

	for i, row := range t.Rows {
		cell := row[col]
		if cell.Kind != types.KindText {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(cell.Text), 10, 64)
		if err != nil {
			r.log.Warn().Int("row", i+1).Str("value", cell.Text).Msg("identifier is not an integer; kept as text")
			continue
		}
		row[col] = types.Int(n)
	}
}
