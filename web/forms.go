package web

import (
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/schema"
)

// ------------------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------------------

// Validator holds a map of validation errors, keyed by the form field name.
type Validator struct {
	Errors map[string]string
}

// NewValidator creates a new, initialized Validator.
func NewValidator() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid returns true if the Errors map is empty.
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError adds an error message to the map for a given field if one
// doesn't already exist for that field.
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// Check is a helper for conditional validation. If `ok` is false, it
// calls AddError with the provided key and message.
func (v *Validator) Check(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// FieldError is a helper to check if the specified field has triggered
// an error.
func (v *Validator) FieldError(field string) bool {
	_, ok := v.Errors[field]
	return ok
}

// ------------------------------------------------------------------------------
// Forms
// ------------------------------------------------------------------------------

// defaultDateToAndFrom sets the default listing window: the trailing 90
// days ending today (UTC).
func defaultDateToAndFrom() (time.Time, time.Time) {
	now := time.Now().UTC()
	dt := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	df := dt.AddDate(0, 0, -90)
	return df, dt
}

// SearchPostsForm represents the URL query parameter filters for the /posts
// listing.
type SearchPostsForm struct {
	PageID   string    `schema:"pageId"`
	DateFrom time.Time `schema:"dateFrom"`
	DateTo   time.Time `schema:"dateTo"`
	Page     int       `schema:"page"`
}

// NewSearchPostsForm creates a SearchPostsForm with defaults.
func NewSearchPostsForm() *SearchPostsForm {
	dateFrom, dateTo := defaultDateToAndFrom()
	return &SearchPostsForm{
		DateFrom: dateFrom,
		DateTo:   dateTo,
		Page:     1, // 1-based pagination.
	}
}

// Validate checks SearchPostsForm fields and populates Validator with any
// errors. Note that the `Check` is like an assertion of truth; if that
// fails, the provided message is recorded against the field.
func (f *SearchPostsForm) Validate(v *Validator) {

	v.Check(f.PageID != "", "pageId", "A page id must be provided.")
	v.Check(!f.DateTo.Before(f.DateFrom), "dateTo", "End date cannot be before the start date.")
	v.Check(!f.DateFrom.IsZero(), "dateFrom", "From date must be provided.")

	if f.Page < 1 {
		f.Page = 1
	}
}

// Offset calculates the database offset for (1-based) pagination.
func (f *SearchPostsForm) Offset() int {
	return (f.Page - 1) * pageLen
}

// SearchInsightsForm represents the URL query parameter filters for the
// /page-insights listing.
type SearchInsightsForm struct {
	PageID   string    `schema:"pageId"`
	DateFrom time.Time `schema:"dateFrom"`
	DateTo   time.Time `schema:"dateTo"`
	Page     int       `schema:"page"`
}

// NewSearchInsightsForm creates a SearchInsightsForm with defaults.
func NewSearchInsightsForm() *SearchInsightsForm {
	dateFrom, dateTo := defaultDateToAndFrom()
	return &SearchInsightsForm{
		DateFrom: dateFrom,
		DateTo:   dateTo,
		Page:     1, // 1-based pagination.
	}
}

// Validate checks SearchInsightsForm fields and populates Validator with
// any errors.
func (f *SearchInsightsForm) Validate(v *Validator) {

	v.Check(f.PageID != "", "pageId", "A page id must be provided.")
	v.Check(!f.DateTo.Before(f.DateFrom), "dateTo", "End date cannot be before the start date.")
	v.Check(!f.DateFrom.IsZero(), "dateFrom", "From date must be provided.")

	if f.Page < 1 {
		f.Page = 1
	}
}

// Offset calculates the database offset for (1-based) pagination.
func (f *SearchInsightsForm) Offset() int {
	return (f.Page - 1) * pageLen
}

// ------------------------------------------------------------------------------
// General decoding funcs
// ------------------------------------------------------------------------------

// newSchemaDecoder creates a new schema.Decoder instance and registers
// a custom converter for the time.Time type.
func newSchemaDecoder() *schema.Decoder {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	decoder.RegisterConverter(time.Time{}, func(value string) reflect.Value {
		t, err := time.Parse("2006-01-02", value) // other patterns can be tried here.
		if err != nil {
			return reflect.ValueOf(time.Time{})
		}
		return reflect.ValueOf(t)
	})

	return decoder
}

// DecodeURLParams is helper that decodes URL query parameters from a request
// into a destination struct (dst).
func DecodeURLParams(r *http.Request, dst any) error {
	decoder := newSchemaDecoder()
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("url parameter decoding error: %v", err)
	}
	return nil
}
