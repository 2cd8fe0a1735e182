package gotype

import (
	"encoding"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConversionFunc converts a value to another type.
type ConversionFunc func(v reflect.Value) (reflect.Value, error)

type conversionKey struct {
	from, to reflect.Type
}

// Conversions is a table of pairwise type conversions. It serves map keys
// and decoding values whose stored type differs from the declared one.
// Besides the registered pairs it converts between numeric kinds with
// overflow checks, between string kinds, between strings and numbers or
// booleans, and through encoding.TextMarshaler/TextUnmarshaler.
type Conversions struct {
	mu    sync.RWMutex
	table map[conversionKey]ConversionFunc
}

var (
	stringType         = reflect.TypeOf("")
	timeType           = reflect.TypeOf(time.Time{})
	uuidType           = reflect.TypeOf(uuid.UUID{})
	objectIDType       = reflect.TypeOf(primitive.ObjectID{})
	int64Type          = reflect.TypeOf(int64(0))
	textMarshalerType  = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerTyp = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// NewConversions returns a table holding the default conversions.
func NewConversions() *Conversions {
	c := &Conversions{table: make(map[conversionKey]ConversionFunc)}
	RegisterConversion(c, func(s string) (uuid.UUID, error) { return uuid.Parse(s) })
	RegisterConversion(c, func(u uuid.UUID) (string, error) { return u.String(), nil })
	RegisterConversion(c, func(s string) (primitive.ObjectID, error) { return primitive.ObjectIDFromHex(s) })
	RegisterConversion(c, func(id primitive.ObjectID) (string, error) { return id.Hex(), nil })
	RegisterConversion(c, func(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) })
	RegisterConversion(c, func(t time.Time) (string, error) { return t.UTC().Format(time.RFC3339Nano), nil })
	RegisterConversion(c, func(ms int64) (time.Time, error) { return time.UnixMilli(ms).UTC(), nil })
	RegisterConversion(c, func(t time.Time) (int64, error) { return t.UnixMilli(), nil })
	RegisterConversion(c, func(dt primitive.DateTime) (time.Time, error) { return dt.Time().UTC(), nil })
	return c
}

// RegisterConversion adds a typed conversion from F to T, replacing any
// existing one.
func RegisterConversion[F, T any](c *Conversions, fn func(F) (T, error)) {
	from := reflect.TypeOf((*F)(nil)).Elem()
	to := reflect.TypeOf((*T)(nil)).Elem()
	c.Register(from, to, func(v reflect.Value) (reflect.Value, error) {
		out, err := fn(v.Interface().(F))
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(&out).Elem(), nil
	})
}

// Register adds a conversion from one type to another.
func (c *Conversions) Register(from, to reflect.Type, fn ConversionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[conversionKey{from, to}] = fn
}

// Has reports whether values of type from can be converted to type to.
func (c *Conversions) Has(from, to reflect.Type) bool {
	return from == to || c.lookup(from, to) != nil
}

// Convert converts v to type to.
func (c *Conversions) Convert(v reflect.Value, to reflect.Type) (reflect.Value, error) {
	if v.Type() == to {
		return v, nil
	}
	fn := c.lookup(v.Type(), to)
	if fn == nil {
		return reflect.Value{}, fmt.Errorf("no conversion from %s to %s", v.Type(), to)
	}
	out, err := fn(v)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("converting %s to %s: %w", v.Type(), to, err)
	}
	return out, nil
}

func (c *Conversions) lookup(from, to reflect.Type) ConversionFunc {
	c.mu.RLock()
	fn, ok := c.table[conversionKey{from, to}]
	c.mu.RUnlock()
	if ok {
		return fn
	}

	fk, tk := from.Kind(), to.Kind()
	switch {
	case isNumericKind(fk) && isNumericKind(tk):
		return func(v reflect.Value) (reflect.Value, error) { return convertNumber(v, to) }
	case fk == reflect.String && tk == reflect.String:
		return func(v reflect.Value) (reflect.Value, error) { return v.Convert(to), nil }
	case from.Implements(textMarshalerType) && tk == reflect.String:
		return func(v reflect.Value) (reflect.Value, error) {
			b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(string(b)).Convert(to), nil
		}
	case fk == reflect.String && reflect.PointerTo(to).Implements(textUnmarshalerTyp):
		return func(v reflect.Value) (reflect.Value, error) {
			out := reflect.New(to)
			if err := out.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
				return reflect.Value{}, err
			}
			return out.Elem(), nil
		}
	case fk == reflect.String && (isNumericKind(tk) || tk == reflect.Bool):
		return func(v reflect.Value) (reflect.Value, error) { return parseScalar(v.String(), to) }
	case (isNumericKind(fk) || fk == reflect.Bool) && tk == reflect.String:
		return func(v reflect.Value) (reflect.Value, error) {
			return reflect.ValueOf(formatScalar(v)).Convert(to), nil
		}
	}
	return nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// convertNumber converts between numeric kinds, failing on overflow and on
// fractional floats converted to integers.
func convertNumber(v reflect.Value, to reflect.Type) (reflect.Value, error) {
	out := reflect.New(to).Elem()
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return out, setInt(out, v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if to.Kind() >= reflect.Int && to.Kind() <= reflect.Int64 && u > math.MaxInt64 {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", u, to)
		}
		if to.Kind() >= reflect.Uint && to.Kind() <= reflect.Uintptr {
			if out.OverflowUint(u) {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", u, to)
			}
			out.SetUint(u)
			return out, nil
		}
		if to.Kind() == reflect.Float32 || to.Kind() == reflect.Float64 {
			out.SetFloat(float64(u))
			return out, nil
		}
		return out, setInt(out, int64(u))
	default:
		f := v.Float()
		if to.Kind() == reflect.Float32 || to.Kind() == reflect.Float64 {
			if out.OverflowFloat(f) {
				return reflect.Value{}, fmt.Errorf("%g overflows %s", f, to)
			}
			out.SetFloat(f)
			return out, nil
		}
		if !integralFloat(f) {
			return reflect.Value{}, fmt.Errorf("%g is not representable as %s", f, to)
		}
		return out, setInt(out, int64(f))
	}
}

// integralFloat reports whether f is a whole number that fits an int64.
// The bounds are exact powers of two: float64(math.MaxInt64) rounds up to
// 2^63, which does not fit.
func integralFloat(f float64) bool {
	return f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63
}

// setInt stores i into an integer or float value, failing on overflow.
func setInt(out reflect.Value, i int64) error {
	switch out.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if out.OverflowInt(i) {
			return fmt.Errorf("%d overflows %s", i, out.Type())
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if i < 0 || out.OverflowUint(uint64(i)) {
			return fmt.Errorf("%d overflows %s", i, out.Type())
		}
		out.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		out.SetFloat(float64(i))
	default:
		return fmt.Errorf("cannot store an integer in %s", out.Type())
	}
	return nil
}

func parseScalar(s string, to reflect.Type) (reflect.Value, error) {
	out := reflect.New(to).Elem()
	switch to.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, to.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, to.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, to.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetFloat(f)
	}
	return out, nil
}

func formatScalar(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	default:
		return strconv.FormatFloat(v.Float(), 'g', -1, v.Type().Bits())
	}
}
