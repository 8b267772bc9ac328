package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// RootPath keys errors that concern the input as a whole.
const RootPath = "$"

// FieldErrors maps dotted field paths (e.g. "address.city", "units[0].price")
// to validation messages.
type FieldErrors map[string][]string

// Add appends a message for path.
func (fe FieldErrors) Add(path, message string) {
	fe[path] = append(fe[path], message)
}

// Merge copies every message from other into fe.
func (fe FieldErrors) Merge(other FieldErrors) {
	for path, msgs := range other {
		for _, msg := range msgs {
			fe.Add(path, msg)
		}
	}
}

// Paths returns the sorted list of paths with errors.
func (fe FieldErrors) Paths() []string {
	paths := make([]string, 0, len(fe))
	for p := range fe {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Schema turns untrusted input into a typed value or field errors. Handlers
// only ever see values produced by a Schema.
type Schema[T any] interface {
	Parse(raw any) (T, FieldErrors)
}

// SelfValidator lets input types add checks validator tags cannot express.
type SelfValidator interface {
	Validate() FieldErrors
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			switch name {
			case "-":
				return ""
			case "":
				return field.Name
			}
			return name
		})
	})
	return validate
}

// JSON returns a schema decoding a JSON document into T. Unknown fields are
// rejected and validator tags on T are enforced.
func JSON[T any]() Schema[T] {
	return jsonSchema[T]{}
}

type jsonSchema[T any] struct{}

func (jsonSchema[T]) Parse(raw any) (T, FieldErrors) {
	var zero T
	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	case string:
		data = []byte(v)
	case io.Reader:
		b, err := io.ReadAll(v)
		if err != nil {
			return zero, FieldErrors{RootPath: {"input could not be read"}}
		}
		data = b
	default:
		return zero, FieldErrors{RootPath: {fmt.Sprintf("unsupported input type %T", raw)}}
	}

	var out T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) || isUnknownField(err) {
			if fe := locateDecodeErrors(data, reflect.TypeFor[T]()); fe != nil {
				return zero, fe
			}
		}
		return zero, decodeErrors(err)
	}
	if dec.More() {
		return zero, FieldErrors{RootPath: {"unexpected data after JSON document"}}
	}
	if fe := validateValue(&out); len(fe) > 0 {
		return zero, fe
	}
	return out, nil
}

// Value returns a schema validating an already-typed value, e.g. one bound
// from URL parameters. raw must be a T or *T.
func Value[T any]() Schema[T] {
	return valueSchema[T]{}
}

type valueSchema[T any] struct{}

func (valueSchema[T]) Parse(raw any) (T, FieldErrors) {
	var zero T
	var out T
	switch v := raw.(type) {
	case T:
		out = v
	case *T:
		if v == nil {
			return zero, FieldErrors{RootPath: {"input is required"}}
		}
		out = *v
	default:
		return zero, FieldErrors{RootPath: {fmt.Sprintf("unsupported input type %T", raw)}}
	}
	if fe := validateValue(&out); len(fe) > 0 {
		return zero, fe
	}
	return out, nil
}

func validateValue(v any) FieldErrors {
	fe := FieldErrors{}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if err := inputValidator().Struct(v); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				fe.Add(RootPath, "invalid input")
				return fe
			}
			for _, fieldErr := range verrs {
				fe.Add(fieldPath(fieldErr.Namespace()), message(fieldErr))
			}
		}
	}
	if sv, ok := v.(SelfValidator); ok {
		fe.Merge(sv.Validate())
	}
	if len(fe) == 0 {
		return nil
	}
	return fe
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with", "required_without":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "min":
		if isLengthKind(fe.Kind()) {
			return "must contain at least " + fe.Param() + " characters or items"
		}
		return "must be at least " + fe.Param()
	case "max":
		if isLengthKind(fe.Kind()) {
			return "must contain at most " + fe.Param() + " characters or items"
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "len":
		return "must have length " + fe.Param()
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	default:
		return "failed the " + strconv.Quote(fe.Tag()) + " check"
	}
}

func isLengthKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return true
	}
	return false
}

func decodeErrors(err error) FieldErrors {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		path := typeErr.Field
		if path == "" {
			path = RootPath
		}
		return FieldErrors{path: {"has an invalid type, expected " + jsonKind(typeErr.Type)}}
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return FieldErrors{RootPath: {"malformed JSON"}}
	case errors.Is(err, io.EOF):
		return FieldErrors{RootPath: {"input is required"}}
	}
	if name, ok := strings.CutPrefix(err.Error(), unknownFieldPrefix); ok {
		if unquoted, uerr := strconv.Unquote(name); uerr == nil {
			name = unquoted
		}
		return FieldErrors{name: {"is not allowed"}}
	}
	return FieldErrors{RootPath: {"malformed JSON"}}
}

const unknownFieldPrefix = "json: unknown field "

func isUnknownField(err error) bool {
	return strings.HasPrefix(err.Error(), unknownFieldPrefix)
}

func jsonKind(t reflect.Type) string {
	if t == nil {
		return "value"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return "value"
}
