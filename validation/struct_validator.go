package validation

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/flowkit/errors"
)

// Unbounded is the capacity value that disables the bound.
const Unbounded = -1

// structValidator names fields after their mapstructure or json tag so
// messages match the keys users write in config files and requests.
var structValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(tagName)
	_ = v.RegisterValidation("capacity", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n == Unbounded || n >= 1
	})
	return v
})

// Validate checks s against its `validate` tags. The custom "capacity" tag
// accepts -1 or any positive value.
func Validate(s any) error {
	err := structValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.Validation("validation failed").WithCause(err)
	}
	fields := make([]FieldError, len(verrs))
	for i, e := range verrs {
		fields[i] = FieldError{Field: e.Field(), Message: describe(e)}
	}
	return fieldsError(fields)
}

func tagName(fld reflect.StructField) string {
	for _, key := range []string{"mapstructure", "json"} {
		name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return snake(fld.Name)
}

func describe(e validator.FieldError) string {
	unit := " characters"
	switch e.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		unit = ""
	}
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + e.Param() + unit
	case "max", "lte":
		return "must be at most " + e.Param() + unit
	case "oneof":
		return "must be one of: " + e.Param()
	case "capacity":
		return "must be at least 1, or -1 for unbounded"
	}
	return "is invalid"
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
