package expr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Object is an insertion-ordered string-keyed map. Object literals in
// expressions evaluate to *Object so @json output keeps the written key order.
type Object struct {
	keys   []string
	values map[string]interface{}
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{values: make(map[string]interface{})}
}

// Set adds or replaces key. A new key is appended to the key order.
func (o *Object) Set(key string, value interface{}) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (interface{}, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys.
func (o *Object) Len() int {
	return len(o.keys)
}

// MarshalJSON encodes the object with keys in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Normalize converts Go numeric kinds to float64 and dereferences nil
// pointers to nil. Other values pass through unchanged.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, bool, string, float64, []interface{}, *Object, map[string]interface{}:
		return v
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		if _, ok := v.(fmt.Stringer); !ok {
			return rv.String()
		}
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil
		}
	}
	return v
}

// Truthy reports whether v counts as true in a condition. nil, false, 0,
// NaN and "" are false; every other value, including empty collections, is
// true.
func Truthy(v interface{}) bool {
	switch val := Normalize(v).(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val)
	case string:
		return val != ""
	default:
		return true
	}
}

// ToString renders v the way an interpolation prints it.
func ToString(v interface{}) string {
	switch val := Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatNumber(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = ToString(item)
		}
		return strings.Join(parts, ",")
	case *Object, map[string]interface{}:
		return "[object Object]"
	case fmt.Stringer:
		return val.String()
	case error:
		return val.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items, _ := Iterate(v)
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = ToString(item.Value)
		}
		return strings.Join(parts, ",")
	case reflect.Map, reflect.Struct:
		return "[object Object]"
	}
	return fmt.Sprint(v)
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StrictEqual compares values without coercion: both sides must be the same
// kind with the same value. Slices, maps and objects compare by identity.
func StrictEqual(a, b interface{}) bool {
	a, b = Normalize(a), Normalize(b)

	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	if b == nil {
		return false
	}

	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Slice, reflect.Map, reflect.Ptr, reflect.Func, reflect.Chan:
		return ra.Pointer() == rb.Pointer() && (ra.Kind() != reflect.Slice || ra.Len() == rb.Len())
	}
	// A comparable struct type can still hold an uncomparable value in an
	// interface field.
	if ra.Comparable() && rb.Comparable() {
		return a == b
	}
	return false
}

// Entry is one element produced by Iterate. Key is the numeric index for
// sequences and the map key for maps.
type Entry struct {
	Key   interface{}
	Value interface{}
}

// Iterate returns the elements of a sequence or map. Maps are visited in
// sorted key order; *Object in insertion order; strings rune by rune. ok is
// false when v is not iterable.
func Iterate(v interface{}) ([]Entry, bool) {
	switch val := v.(type) {
	case []interface{}:
		out := make([]Entry, len(val))
		for i, item := range val {
			out[i] = Entry{Key: float64(i), Value: item}
		}
		return out, true
	case *Object:
		out := make([]Entry, 0, val.Len())
		for _, k := range val.keys {
			out = append(out, Entry{Key: k, Value: val.values[k]})
		}
		return out, true
	case string:
		out := make([]Entry, 0, utf8.RuneCountInString(val))
		i := 0
		for _, r := range val {
			out = append(out, Entry{Key: float64(i), Value: string(r)})
			i++
		}
		return out, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]Entry, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Entry{Key: float64(i), Value: rv.Index(i).Interface()}
		}
		return out, true
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return ToString(keys[i].Interface()) < ToString(keys[j].Interface())
		})
		out := make([]Entry, len(keys))
		for i, k := range keys {
			out[i] = Entry{Key: Normalize(k.Interface()), Value: rv.MapIndex(k).Interface()}
		}
		return out, true
	}
	return nil, false
}

// Length returns the length of a string, sequence or map.
func Length(v interface{}) (int, bool) {
	switch val := v.(type) {
	case string:
		return utf8.RuneCountInString(val), true
	case []interface{}:
		return len(val), true
	case *Object:
		return val.Len(), true
	case nil:
		return 0, false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), true
	}
	return 0, false
}

// property reads name from target. Missing properties yield nil, not an
// error; unexported struct fields and methods are never reachable.
func property(target interface{}, name string) interface{} {
	switch val := target.(type) {
	case map[string]interface{}:
		return val[name]
	case *Object:
		v, _ := val.Get(name)
		return v
	case string:
		if name == "length" {
			return float64(utf8.RuneCountInString(val))
		}
		return nil
	case []interface{}:
		if name == "length" {
			return float64(len(val))
		}
		return nil
	}

	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		mv := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil
		}
		return mv.Interface()
	case reflect.Struct:
		return structField(rv, name)
	case reflect.Slice, reflect.Array, reflect.String:
		if name == "length" {
			return float64(rv.Len())
		}
	}
	return nil
}

// structField matches an exported field by Go name, by json tag, or by the
// name with its first letter upper-cased (user.name reads User.Name).
func structField(rv reflect.Value, name string) interface{} {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag := strings.Split(f.Tag.Get("json"), ",")[0]; tag != "" && tag != "-" && tag == name {
			return rv.Field(i).Interface()
		}
	}
	if f := rv.FieldByName(name); f.IsValid() && isExported(name) {
		return f.Interface()
	}
	if exported := upperFirst(name); exported != name {
		if f := rv.FieldByName(exported); f.IsValid() {
			return f.Interface()
		}
	}
	return nil
}

func index(target, key interface{}) interface{} {
	key = Normalize(key)
	if s, ok := key.(string); ok {
		return property(target, s)
	}
	f, ok := key.(float64)
	if !ok || f != math.Trunc(f) || f < 0 {
		return nil
	}
	i := int(f)

	switch val := target.(type) {
	case []interface{}:
		if i < len(val) {
			return val[i]
		}
		return nil
	case string:
		runes := []rune(val)
		if i < len(runes) {
			return string(runes[i])
		}
		return nil
	}

	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if i < rv.Len() {
			return rv.Index(i).Interface()
		}
	case reflect.Map:
		return property(target, formatNumber(f))
	}
	return nil
}

func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func upperFirst(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// TypeName describes v for error messages.
func TypeName(v interface{}) string {
	switch Normalize(v).(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case *Object, map[string]interface{}:
		return "object"
	}
	return reflect.TypeOf(v).String()
}
