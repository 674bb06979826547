package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/transitbridge-data/pkg/gtfs/models"
)

// rowReader reads typed cells out of one CSV record. Coercion failures and
// empty required cells are recorded on the shared report and flip bad, which
// drops the row from staging.
type rowReader struct {
	table  string
	row    int
	record []string
	header map[string]int
	report *models.Report
	bad    bool
}

func (r *rowReader) raw(col string) string {
	if idx, ok := r.header[col]; ok && idx < len(r.record) {
		return strings.TrimSpace(r.record[idx])
	}
	return ""
}

func (r *rowReader) fail(col, value, reason string) {
	r.bad = true
	r.report.AddRow(models.RowValidationError{
		Table:  r.table,
		Row:    r.row,
		Column: col,
		Value:  value,
		Reason: reason,
	})
}

// optID is for optional identifier columns stored as plain strings.
func (r *rowReader) optID(col string) string {
	return r.raw(col)
}

func (r *rowReader) reqString(col string) string {
	v := r.raw(col)
	if v == "" {
		r.fail(col, "", "required value is empty")
	}
	return v
}

func (r *rowReader) optString(col string) *string {
	v := r.raw(col)
	if v == "" {
		return nil
	}
	return &v
}

func (r *rowReader) reqInt(col string) int {
	v := r.raw(col)
	if v == "" {
		r.fail(col, "", "required value is empty")
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(col, v, "not an integer")
		return 0
	}
	return n
}

func (r *rowReader) optInt(col string) *int {
	v := r.raw(col)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(col, v, "not an integer")
		return nil
	}
	return &n
}

func (r *rowReader) reqFloat(col string) float64 {
	v := r.raw(col)
	if v == "" {
		r.fail(col, "", "required value is empty")
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(col, v, "not a decimal")
		return 0
	}
	return f
}

func (r *rowReader) optFloat(col string) *float64 {
	v := r.raw(col)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(col, v, "not a decimal")
		return nil
	}
	return &f
}

// enum reads an optional enumerated value in [0, max], defaulting absent
// cells to 0 per GTFS convention.
func (r *rowReader) enum(col string, max int) int {
	v := r.raw(col)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > max {
		r.fail(col, v, "not in the allowed value set")
		return 0
	}
	return n
}

func (r *rowReader) reqEnum(col string, max int) int {
	return r.reqEnumRange(col, 0, max)
}

func (r *rowReader) reqEnumRange(col string, min, max int) int {
	v := r.raw(col)
	if v == "" {
		r.fail(col, "", "required value is empty")
		return min
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		r.fail(col, v, "not in the allowed value set")
		return min
	}
	return n
}

func (r *rowReader) reqDate(col string) time.Time {
	v := r.raw(col)
	if v == "" {
		r.fail(col, "", "required value is empty")
		return time.Time{}
	}
	t, err := ParseDate(v)
	if err != nil {
		r.fail(col, v, err.Error())
		return time.Time{}
	}
	return t
}

func (r *rowReader) optDate(col string) *time.Time {
	v := r.raw(col)
	if v == "" {
		return nil
	}
	t, err := ParseDate(v)
	if err != nil {
		r.fail(col, v, err.Error())
		return nil
	}
	return &t
}

func (r *rowReader) reqSeconds(col string) int {
	v := r.raw(col)
	if v == "" {
		r.fail(col, "", "required value is empty")
		return 0
	}
	secs, err := ParseTime(v)
	if err != nil {
		r.fail(col, v, err.Error())
		return 0
	}
	return secs
}

func (r *rowReader) optSeconds(col string) *int {
	v := r.raw(col)
	if v == "" {
		return nil
	}
	secs, err := ParseTime(v)
	if err != nil {
		r.fail(col, v, err.Error())
		return nil
	}
	return &secs
}
