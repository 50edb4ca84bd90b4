package workbook

import (
	"strings"

	"github.com/xuri/excelize/v2"
)

// builtinDateFormats lists the built-in number format ids that display a
// date, including the East Asian locale ids.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

// dateStyleCache answers "is this cell date-formatted" with one style lookup
// per distinct style id.
type dateStyleCache struct {
	f       *excelize.File
	byStyle map[int]bool
}

func newDateStyleCache(f *excelize.File) *dateStyleCache {
	return &dateStyleCache{f: f, byStyle: make(map[int]bool)}
}

func (c *dateStyleCache) isDateCell(sheet, cell string) (bool, error) {
	id, err := c.f.GetCellStyle(sheet, cell)
	if err != nil {
		return false, err
	}
	if id == 0 {
		return false, nil
	}
	if isDate, ok := c.byStyle[id]; ok {
		return isDate, nil
	}

	style, err := c.f.GetStyle(id)
	if err != nil {
		return false, err
	}

	isDate := builtinDateFormats[style.NumFmt]
	if !isDate && style.CustomNumFmt != nil {
		isDate = IsDateFormatCode(*style.CustomNumFmt)
	}
	c.byStyle[id] = isDate
	return isDate, nil
}

// IsDateFormatCode reports whether a custom number format displays a date.
// Quoted literals, escaped characters and bracketed sections (colors,
// locales, elapsed time) are ignored before looking for year or day tokens.
func IsDateFormatCode(code string) bool {
	var b strings.Builder
	inQuote, inBracket, escaped := false, false, false

	for _, r := range code {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case inQuote:
			inQuote = r != '"'
		case r == '"':
			inQuote = true
		case inBracket:
			inBracket = r != ']'
		case r == '[':
			inBracket = true
		default:
			b.WriteRune(r)
		}
	}

	// Only the positive section decides.
	section, _, _ := strings.Cut(strings.ToLower(b.String()), ";")
	return strings.ContainsAny(section, "yd")
}
