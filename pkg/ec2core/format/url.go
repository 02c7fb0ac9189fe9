package format

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

var (
	errZeroIndex   = errors.New("index <= 0 not allowed")
	errNoSuchField = errors.New("no such field")
)

// paramError associates a decoding failure with the query parameter
// that caused it.
type paramError struct {
	Param string
	Value string
	Err   error
}

func (e *paramError) Error() string {
	return fmt.Sprintf("decoding URL encoded value %s: %s", e.Param, e.Err)
}

func (e *paramError) Unwrap() error {
	return e.Err
}

func fieldByName(rv reflect.Value, name string) reflect.Value {
	rt := rv.Type()
	for i := range rt.NumField() {
		ft := rt.Field(i)
		if ft.Tag.Get("url") == name {
			return rv.Field(i)
		}
		if ft.Anonymous && rv.Field(i).Kind() == reflect.Struct {
			if f := fieldByName(rv.Field(i), name); f.IsValid() {
				return f
			}
		}
	}
	return reflect.Value{}
}

func decodeURLField(nameComponents []string, values []string, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return decodeURLField(nameComponents, values, rv.Elem())
	case reflect.Struct:
		if len(nameComponents) == 0 {
			return fmt.Errorf("missing field name for %s", rv.Type().Name())
		}
		fieldName := nameComponents[0]
		f := fieldByName(rv, fieldName)
		if !f.IsValid() {
			return fmt.Errorf("no %s field found in %s: %w", fieldName, rv.Type().Name(), errNoSuchField)
		}
		if err := decodeURLField(nameComponents[1:], values, f); err != nil {
			return fmt.Errorf("decoding field %s: %w", fieldName, err)
		}
	case reflect.Slice:
		if len(nameComponents) > 0 && strings.EqualFold(nameComponents[0], "member") {
			nameComponents = nameComponents[1:]
		}
		if len(nameComponents) == 0 {
			return fmt.Errorf("missing index for slice %s", rv.Type())
		}
		num, err := strconv.Atoi(nameComponents[0])
		if err != nil {
			return fmt.Errorf("parsing index: %w", err)
		}
		if num <= 0 {
			return errZeroIndex
		}
		// Keys are visited in order, so indexes arrive densely
		if num > rv.Len() {
			if num > rv.Len()+1 {
				return fmt.Errorf("expecting index <= %d, got %d instead", rv.Len()+1, num)
			}
			rv.Set(reflect.Append(rv, reflect.New(rv.Type().Elem()).Elem()))
		}
		if err := decodeURLField(nameComponents[1:], values, rv.Index(num-1)); err != nil {
			return err
		}
	case reflect.String:
		if len(nameComponents) > 0 {
			return fmt.Errorf("unexpected sub-field %s: %w", nameComponents[0], errNoSuchField)
		}
		rv.SetString(values[0])
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(values[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing int field: %w", err)
		}
		rv.SetInt(i)
	case reflect.Bool:
		v, err := strconv.ParseBool(values[0])
		if err != nil {
			return fmt.Errorf("parsing bool field: %w", err)
		}
		rv.SetBool(v)
	default:
		return fmt.Errorf("cannot set value of type %s", rv.Type())
	}
	return nil
}

// compareKeys orders shorter keys first so that Foo.2 never precedes Foo.1
// and Foo.10 follows Foo.9.
func compareKeys(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

func decodeURLEncoded(values url.Values, out any) error {
	rv := reflect.ValueOf(out).Elem()
	keys := slices.SortedFunc(maps.Keys(values), compareKeys)
	for _, k := range keys {
		v := values[k]
		components := strings.Split(k, ".")
		if err := decodeURLField(components, v, rv); err != nil {
			value := ""
			if len(v) > 0 {
				value = v[0]
			}
			return &paramError{Param: k, Value: value, Err: err}
		}
	}
	return nil
}
