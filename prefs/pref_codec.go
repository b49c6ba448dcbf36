package prefs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// wire type tag, one byte per snapshot entry
type Kind uint8

const (
	// the entry name is sent without a value (`Ignore` policy)
	KindOmitted Kind = 0
	KindBool    Kind = 1
	KindInt     Kind = 2
	KindFloat   Kind = 3
	KindString  Kind = 4
	KindEnum    Kind = 5
	KindColor   Kind = 6
)

func (self Kind) String() string {
	switch self {
	case KindOmitted:
		return "omitted"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindColor:
		return "color"
	default:
		return fmt.Sprintf("kind(%d)", uint8(self))
	}
}

type Color struct {
	R float32
	G float32
	B float32
}

var ColorWhite = Color{R: 1, G: 1, B: 1}

func (self Color) String() string {
	return fmt.Sprintf("%g,%g,%g", self.R, self.G, self.B)
}

func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) != 6 {
			return Color{}, fmt.Errorf("Color must be #rrggbb: %s", s)
		}
		rgb, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return Color{}, err
		}
		return Color{
			R: float32((rgb>>16)&0xff) / 255,
			G: float32((rgb>>8)&0xff) / 255,
			B: float32(rgb&0xff) / 255,
		}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Color{}, fmt.Errorf("Color must be r,g,b: %s", s)
	}
	var components [3]float32
	for i, part := range parts {
		c, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return Color{}, err
		}
		components[i] = float32(c)
	}
	return Color{R: components[0], G: components[1], B: components[2]}, nil
}

type Enum interface {
	~int32
	String() string
}

// the per kind conversions for a preference value type
// `consumeValue` follows protowire and returns a negative length on malformed input
type kindCodec[T comparable] struct {
	kind           Kind
	appendValue    func(b []byte, v T) []byte
	consumeValue   func(b []byte) (T, int)
	parseText      func(s string) (T, error)
	formatText     func(v T) string
	toStoreValue   func(v T) any
	fromStoreValue func(v any) (T, error)
}

var errStoreType = errors.New("Stored value has the wrong type")

func boolCodec() *kindCodec[bool] {
	return &kindCodec[bool]{
		kind: KindBool,
		appendValue: func(b []byte, v bool) []byte {
			return protowire.AppendVarint(b, protowire.EncodeBool(v))
		},
		consumeValue: func(b []byte) (bool, int) {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return false, n
			}
			if 1 < v {
				return false, -1
			}
			return protowire.DecodeBool(v), n
		},
		parseText:  strconv.ParseBool,
		formatText: strconv.FormatBool,
		toStoreValue: func(v bool) any {
			return v
		},
		fromStoreValue: func(v any) (bool, error) {
			if b, ok := v.(bool); ok {
				return b, nil
			}
			return false, errStoreType
		},
	}
}

func intCodec() *kindCodec[int64] {
	return &kindCodec[int64]{
		kind: KindInt,
		appendValue: func(b []byte, v int64) []byte {
			return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
		},
		consumeValue: func(b []byte) (int64, int) {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, n
			}
			return protowire.DecodeZigZag(v), n
		},
		parseText: func(s string) (int64, error) {
			return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		},
		formatText: func(v int64) string {
			return strconv.FormatInt(v, 10)
		},
		toStoreValue: func(v int64) any {
			return v
		},
		fromStoreValue: func(v any) (int64, error) {
			switch w := v.(type) {
			case int64:
				return w, nil
			case float64:
				if w == math.Trunc(w) {
					return int64(w), nil
				}
			}
			return 0, errStoreType
		},
	}
}

func floatCodec() *kindCodec[float64] {
	return &kindCodec[float64]{
		kind: KindFloat,
		appendValue: func(b []byte, v float64) []byte {
			return protowire.AppendFixed64(b, math.Float64bits(v))
		},
		consumeValue: func(b []byte) (float64, int) {
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, n
			}
			return math.Float64frombits(v), n
		},
		parseText: func(s string) (float64, error) {
			return strconv.ParseFloat(strings.TrimSpace(s), 64)
		},
		formatText: func(v float64) string {
			return strconv.FormatFloat(v, 'g', -1, 64)
		},
		toStoreValue: func(v float64) any {
			return v
		},
		fromStoreValue: func(v any) (float64, error) {
			switch w := v.(type) {
			case float64:
				return w, nil
			case int64:
				return float64(w), nil
			}
			return 0, errStoreType
		},
	}
}

func stringCodec() *kindCodec[string] {
	return &kindCodec[string]{
		kind: KindString,
		appendValue: func(b []byte, v string) []byte {
			return protowire.AppendString(b, v)
		},
		consumeValue: func(b []byte) (string, int) {
			return protowire.ConsumeString(b)
		},
		parseText: func(s string) (string, error) {
			return s, nil
		},
		formatText: func(v string) string {
			return v
		},
		toStoreValue: func(v string) any {
			return v
		},
		fromStoreValue: func(v any) (string, error) {
			if s, ok := v.(string); ok {
				return s, nil
			}
			return "", errStoreType
		},
	}
}

// enums are stored by name when `values` are known, and parse either by name or number
func enumCodec[E Enum](values []E) *kindCodec[E] {
	parseText := func(s string) (E, error) {
		s = strings.TrimSpace(s)
		for _, value := range values {
			if strings.EqualFold(value.String(), s) {
				return value, nil
			}
		}
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("Unknown enum value: %s", s)
		}
		return E(i), nil
	}
	return &kindCodec[E]{
		kind: KindEnum,
		appendValue: func(b []byte, v E) []byte {
			return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
		},
		consumeValue: func(b []byte) (E, int) {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, n
			}
			i := protowire.DecodeZigZag(v)
			if i < math.MinInt32 || math.MaxInt32 < i {
				return 0, -1
			}
			return E(i), n
		},
		parseText: parseText,
		formatText: func(v E) string {
			return v.String()
		},
		toStoreValue: func(v E) any {
			return v.String()
		},
		fromStoreValue: func(v any) (E, error) {
			switch w := v.(type) {
			case string:
				return parseText(w)
			case int64:
				if math.MinInt32 <= w && w <= math.MaxInt32 {
					return E(w), nil
				}
			}
			return 0, errStoreType
		},
	}
}

func colorCodec() *kindCodec[Color] {
	return &kindCodec[Color]{
		kind: KindColor,
		appendValue: func(b []byte, v Color) []byte {
			b = protowire.AppendFixed32(b, math.Float32bits(v.R))
			b = protowire.AppendFixed32(b, math.Float32bits(v.G))
			b = protowire.AppendFixed32(b, math.Float32bits(v.B))
			return b
		},
		consumeValue: func(b []byte) (Color, int) {
			var components [3]float32
			m := 0
			for i := range components {
				v, n := protowire.ConsumeFixed32(b[m:])
				if n < 0 {
					return Color{}, n
				}
				components[i] = math.Float32frombits(v)
				m += n
			}
			return Color{R: components[0], G: components[1], B: components[2]}, m
		},
		parseText: ParseColor,
		formatText: func(v Color) string {
			return v.String()
		},
		toStoreValue: func(v Color) any {
			return []float64{float64(v.R), float64(v.G), float64(v.B)}
		},
		fromStoreValue: func(v any) (Color, error) {
			switch w := v.(type) {
			case string:
				return ParseColor(w)
			case []any:
				if len(w) != 3 {
					return Color{}, errStoreType
				}
				var components [3]float32
				for i, c := range w {
					switch x := c.(type) {
					case float64:
						components[i] = float32(x)
					case int64:
						components[i] = float32(x)
					default:
						return Color{}, errStoreType
					}
				}
				return Color{R: components[0], G: components[1], B: components[2]}, nil
			}
			return Color{}, errStoreType
		},
	}
}
