package ds

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// PropertyName returns the datastore property name for a struct field,
// honouring the `datastore:"name,noindex"` tag. It returns "" for fields
// that must not be stored.
func PropertyName(field reflect.StructField) string {
	// Don't include unexported fields.
	if field.PkgPath != "" {
		return ""
	}

	tagValues := strings.Split(field.Tag.Get("datastore"), ",")
	if len(tagValues) > 0 {
		switch tagValues[0] {
		case "-":
			return ""
		case "":
			return field.Name
		default:
			return tagValues[0]
		}
	}
	return field.Name
}

// PropertyNoIndex reports whether the struct field carries the noindex tag
// option.
func PropertyNoIndex(field reflect.StructField) bool {
	tagValues := strings.Split(field.Tag.Get("datastore"), ",")
	if len(tagValues) > 1 {
		return tagValues[1] == "noindex"
	}
	return false
}

func extractStruct(entity interface{}) (reflect.Value, error) {
	val := reflect.ValueOf(entity)
	if val.Kind() == reflect.Interface {
		val = val.Elem()
	}
	val = reflect.Indirect(val)
	if val.Kind() != reflect.Struct {
		return reflect.Value{}, errors.New("dslite: entity must be a struct or struct pointer")
	}
	return val, nil
}

// ToPropertyList converts a struct (or struct pointer) into a PropertyList.
// Supported field types are int64, string, bool, float64, []byte and
// time.Time. Slice fields other than []byte are rejected: multi-valued
// properties have no relational mapping.
func ToPropertyList(entity interface{}) (PropertyList, error) {
	val, err := extractStruct(entity)
	if err != nil {
		return nil, err
	}
	ty := val.Type()

	pl := make(PropertyList, 0, ty.NumField())
	for i := 0; i < ty.NumField(); i++ {
		structField := ty.Field(i)

		propName := PropertyName(structField)
		if propName == "" {
			continue
		}

		var propValue interface{}
		switch structField.Type.Kind() {
		case reflect.Int64, reflect.String, reflect.Float64, reflect.Bool:
			propValue = val.Field(i).Interface()
		case reflect.Struct:
			t, ok := val.Field(i).Interface().(time.Time)
			if !ok {
				continue
			}
			propValue = t
		case reflect.Slice:
			if structField.Type.Elem().Kind() != reflect.Uint8 {
				return nil, fmt.Errorf(
					"%w: field %s: multi-valued properties are not supported",
					ErrInvalid, structField.Name)
			}
			// []byte is a single blob property and is never indexed.
			pl = append(pl, Property{
				Name:    propName,
				Value:   val.Field(i).Interface(),
				NoIndex: true,
			})
			continue
		default:
			continue
		}

		pl = append(pl, Property{
			Name:    propName,
			Value:   propValue,
			NoIndex: PropertyNoIndex(structField),
		})
	}
	return pl, nil
}

// PopulateStruct transfers property values into the fields of the struct
// pointed to by entity. Properties without a matching field are ignored;
// matching fields with an incompatible type are an error.
func PopulateStruct(entity interface{}, pl PropertyList) error {
	val := reflect.ValueOf(entity)
	if val.Kind() == reflect.Interface {
		val = val.Elem()
	}
	if val.Kind() != reflect.Ptr {
		return errors.New("dslite: entity must be a struct pointer")
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return errors.New("dslite: entity must be a struct pointer")
	}
	valueType := val.Type()

	// Map property names (possibly renamed by tags) to struct fields.
	fieldValues := make(map[string]reflect.Value, val.NumField())
	for i := 0; i < val.NumField(); i++ {
		field := valueType.Field(i)
		propName := PropertyName(field)
		if propName == "" {
			continue
		}
		fieldValues[propName] = val.Field(i)
	}

	for _, p := range pl {
		fv, exists := fieldValues[p.Name]
		if !exists {
			continue
		}
		if p.Value == nil {
			continue
		}

		pv := reflect.ValueOf(p.Value)
		if !pv.Type().AssignableTo(fv.Type()) {
			return fmt.Errorf("dslite: property %s (%T) does not fit field type %s",
				p.Name, p.Value, fv.Type())
		}
		fv.Set(pv)
	}
	return nil
}

// CheckKeysValues verifies that entities is a slice matching keys element
// for element, each element being a struct or struct pointer.
func CheckKeysValues(keys []Key, values reflect.Value) error {
	if values.Kind() != reflect.Slice {
		return errors.New("dslite: entities not a slice")
	}

	if len(keys) != values.Len() {
		return errors.New("dslite: keys length not same as entities length")
	}

	sliceEntityType := values.Type().Elem()
	switch sliceEntityType.Kind() {
	case reflect.Struct:
		return nil
	case reflect.Ptr:
		if sliceEntityType.Elem().Kind() == reflect.Struct {
			return nil
		}
	case reflect.Interface:
		// Each element must itself be a struct pointer.
		for i := 0; i < values.Len(); i++ {
			val := values.Index(i)
			if val.Kind() == reflect.Interface &&
				val.Elem().Kind() == reflect.Ptr &&
				val.Elem().Elem().Kind() == reflect.Struct {
				continue
			}
			return errors.New("dslite: interface slice does not contain struct pointers")
		}
		return nil
	}
	return errors.New("dslite: entities not structs or pointers")
}
