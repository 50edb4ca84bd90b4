// =============================================================================
// CSV to XLSM Transfer - Pre-Merge Validation
// =============================================================================
//
// This module inspects TransferRows right before they are merged into the
// destination sheet and reports cells that will not be written the way the
// sheet expects:
//   - Date cells that are neither a date nor YYYYMMDD / YYYY-MM-DD text
//   - Identifier cells that are not integers after comma removal
//   - Rows with an empty document name
//
// ERROR HANDLING:
//   - Findings are collected, never thrown
//   - Every finding carries the row number and the offending value
//   - Findings are warnings by default: the merge writes such cells as text,
//     which is what the staff correct by hand today
//   - StrictDates / StrictIdentifiers promote the matching rule to an error
//
// =============================================================================

package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shinseikai/csv2xlsm/internal/types"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Rule names, used in logs and for counting.
const (
	RuleDate        = "date"
	RuleIdentifier  = "identifier"
	RuleRequiredDoc = "required_document"
	RuleWidth       = "width"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single finding.
type ValidationError struct {
	// Severity is SeverityError or SeverityWarning.
	Severity string

	// Column is the TransferRow position of the cell.
	Column int

	// Value is the cell rendered as text.
	Value string

	// Rule is the rule that was violated.
	Rule string

	// Message is a human-readable description.
	Message string

	// RowNumber is the 1-based data row number within the transferred table.
	RowNumber int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] row %d, column %d: %s (value: '%s')",
		strings.ToUpper(e.Severity),
		e.RowNumber,
		e.Column,
		e.Message,
		e.Value,
	)
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the results of validation.
type ValidationResult struct {
	// IsValid is true if there are no error-severity findings.
	IsValid bool

	// Errors contains all findings, warnings included.
	Errors []*ValidationError

	ErrorCount   int
	WarningCount int

	// RowsValidated is the number of rows inspected.
	RowsValidated int
}

// CountByRule tallies findings per rule name.
func (r *ValidationResult) CountByRule() map[string]int {
	counts := make(map[string]int)
	for _, e := range r.Errors {
		counts[e.Rule]++
	}
	return counts
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Layout locates the checked columns in a TransferRow.
type Layout struct {
	DateColumn       int
	IdentifierColumn int
	DocumentColumn   int

	// MinWidth is the number of cells a row needs to fill the duplicate key.
	// Zero disables the check.
	MinWidth int
}

// ValidationOptions contains options for validation.
type ValidationOptions struct {
	// StrictDates turns date findings into errors.
	StrictDates bool

	// StrictIdentifiers turns identifier findings into errors.
	StrictIdentifiers bool

	// RequireDocument reports rows whose document name is empty.
	RequireDocument bool
}

// DefaultValidationOptions returns the default validation options.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{RequireDocument: true}
}

// Validator checks TransferRows.
type Validator struct {
	layout  Layout
	options ValidationOptions
}

// NewValidator creates a new Validator with the default options.
func NewValidator(layout Layout) *Validator {
	return NewValidatorWithOptions(layout, DefaultValidationOptions())
}

// NewValidatorWithOptions creates a new Validator with custom options.
func NewValidatorWithOptions(layout Layout, options ValidationOptions) *Validator {
	return &Validator{layout: layout, options: options}
}

// =============================================================================
// MAIN VALIDATION FUNCTION
// =============================================================================

// ValidateAll inspects every row of the table.
func (v *Validator) ValidateAll(table *types.Table) *ValidationResult {
	result := &ValidationResult{
		IsValid:       true,
		Errors:        make([]*ValidationError, 0),
		RowsValidated: table.NumRows(),
	}

	for i, row := range table.Rows {
		for _, err := range v.ValidateRow(i+1, row) {
			result.Errors = append(result.Errors, err)
			if err.Severity == SeverityError {
				result.ErrorCount++
				result.IsValid = false
			} else {
				result.WarningCount++
			}
		}
	}

	return result
}

// ValidateRow inspects a single row. rowNumber is used for reporting only.
func (v *Validator) ValidateRow(rowNumber int, row []types.Value) []*ValidationError {
	var errs []*ValidationError

	if len(row) < v.layout.MinWidth {
		errs = append(errs, &ValidationError{
			Severity:  SeverityWarning,
			Column:    len(row),
			Rule:      RuleWidth,
			Message:   fmt.Sprintf("row has %d of %d key cells; the missing ones compare as empty", len(row), v.layout.MinWidth),
			RowNumber: rowNumber,
		})
	}

	if cell, ok := cellAt(row, v.layout.DateColumn); ok {
		if msg := validateDate(cell); msg != "" {
			errs = append(errs, &ValidationError{
				Severity:  severity(v.options.StrictDates),
				Column:    v.layout.DateColumn,
				Value:     cell.String(),
				Rule:      RuleDate,
				Message:   msg,
				RowNumber: rowNumber,
			})
		}
	}

	if cell, ok := cellAt(row, v.layout.IdentifierColumn); ok {
		if msg := validateIdentifier(cell); msg != "" {
			errs = append(errs, &ValidationError{
				Severity:  severity(v.options.StrictIdentifiers),
				Column:    v.layout.IdentifierColumn,
				Value:     cell.String(),
				Rule:      RuleIdentifier,
				Message:   msg,
				RowNumber: rowNumber,
			})
		}
	}

	if v.options.RequireDocument {
		if cell, ok := cellAt(row, v.layout.DocumentColumn); ok && cell.String() == "" {
			errs = append(errs, &ValidationError{
				Severity:  SeverityWarning,
				Column:    v.layout.DocumentColumn,
				Rule:      RuleRequiredDoc,
				Message:   "document name is empty",
				RowNumber: rowNumber,
			})
		}
	}

	return errs
}

func cellAt(row []types.Value, col int) (types.Value, bool) {
	if col < 0 || col >= len(row) {
		return types.Value{}, false
	}
	return row[col], true
}

func severity(strict bool) string {
	if strict {
		return SeverityError
	}
	return SeverityWarning
}

// =============================================================================
// CELL VALIDATORS
// =============================================================================

// validateDate accepts date cells and YYYYMMDD or YYYY-MM-DD text.
// Empty cells are accepted; the sheet allows blank dates.
func validateDate(cell types.Value) string {
	switch cell.Kind {
	case types.KindNull, types.KindDate:
		return ""
	}

	value := cell.String()
	for _, layout := range []string{types.CompactDateLayout, types.ISODateLayout} {
		if _, err := time.Parse(layout, value); err == nil {
			return ""
		}
	}
	return fmt.Sprintf("value '%s' is not a valid date; it will be written as text", value)
}

// validateIdentifier accepts integer cells and text that parses as an
// integer once thousands separators are removed.
func validateIdentifier(cell types.Value) string {
	switch cell.Kind {
	case types.KindNull, types.KindInt:
		return ""
	}

	value := strings.ReplaceAll(cell.String(), ",", "")
	if _, err := strconv.ParseInt(value, 10, 64); err != nil {
		return fmt.Sprintf("value '%s' is not a valid integer; it will be written as text", cell.String())
	}
	return ""
}

// =============================================================================
// ERROR FORMATTING
// =============================================================================

// FormatErrors formats findings for display or logging.
func FormatErrors(errors []*ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Validation completed with %d finding(s):\n\n", len(errors)))

	for i, err := range errors {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}

	return builder.String()
}
