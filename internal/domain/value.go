package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DataType mirrors the Sparkplug B metric datatype identifiers.
type DataType uint32

const (
	DataTypeUnknown  DataType = 0
	DataTypeInt8     DataType = 1
	DataTypeInt16    DataType = 2
	DataTypeInt32    DataType = 3
	DataTypeInt64    DataType = 4
	DataTypeUInt8    DataType = 5
	DataTypeUInt16   DataType = 6
	DataTypeUInt32   DataType = 7
	DataTypeUInt64   DataType = 8
	DataTypeFloat    DataType = 9
	DataTypeDouble   DataType = 10
	DataTypeBoolean  DataType = 11
	DataTypeString   DataType = 12
	DataTypeDateTime DataType = 13 // epoch milliseconds
)

var dataTypeNames = map[DataType]string{
	DataTypeInt8:     "int8",
	DataTypeInt16:    "int16",
	DataTypeInt32:    "int32",
	DataTypeInt64:    "int64",
	DataTypeUInt8:    "uint8",
	DataTypeUInt16:   "uint16",
	DataTypeUInt32:   "uint32",
	DataTypeUInt64:   "uint64",
	DataTypeFloat:    "float",
	DataTypeDouble:   "double",
	DataTypeBoolean:  "boolean",
	DataTypeString:   "string",
	DataTypeDateTime: "datetime",
}

func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return "unknown"
}

// IsNumeric reports whether values of this type are compared by magnitude.
func (d DataType) IsNumeric() bool {
	return d >= DataTypeInt8 && d <= DataTypeDouble
}

// Kind returns the scalar value kind carried by this datatype.
func (d DataType) Kind() ValueKind {
	switch {
	case d.IsNumeric(), d == DataTypeDateTime:
		return KindNumber
	case d == DataTypeBoolean:
		return KindBool
	case d == DataTypeString:
		return KindString
	default:
		return KindInvalid
	}
}

// ParseDataType accepts the names used in configuration files ("double", "bool", ...).
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "double", "float64", "number", "numeric":
		return DataTypeDouble, nil
	case "float", "float32":
		return DataTypeFloat, nil
	case "bool", "boolean":
		return DataTypeBoolean, nil
	case "string", "text":
		return DataTypeString, nil
	}
	for dt, name := range dataTypeNames {
		if strings.EqualFold(name, s) {
			return dt, nil
		}
	}
	return DataTypeUnknown, fmt.Errorf("unknown data type %q", s)
}

// UnmarshalYAML lets tag definitions spell the datatype by name.
func (d *DataType) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	dt, err := ParseDataType(raw)
	if err != nil {
		return err
	}
	*d = dt
	return nil
}

// ValueKind discriminates the scalar stored in a Value.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindNumber
	KindBool
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a single scalar process value.
type Value struct {
	Kind   ValueKind `cbor:"k" json:"kind"`
	Number float64   `cbor:"n,omitempty" json:"number,omitempty"`
	Bool   bool      `cbor:"b,omitempty" json:"bool,omitempty"`
	Text   string    `cbor:"s,omitempty" json:"text,omitempty"`
}

func NumberValue(f float64) Value { return Value{Kind: KindNumber, Number: f} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func StringValue(s string) Value  { return Value{Kind: KindString, Text: s} }

// IsValid reports whether v holds a scalar.
func (v Value) IsValid() bool { return v.Kind != KindInvalid }

// Equal compares kind and the scalar for that kind only.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Number == o.Number
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Text == o.Text
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Text
	default:
		return "<invalid>"
	}
}

// ParseValue converts raw text into a Value of the given datatype.
func ParseValue(dt DataType, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch dt.Kind() {
	case KindNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse %s: %w", dt, err)
		}
		return NumberValue(f), nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("parse %s: %w", dt, err)
		}
		return BoolValue(b), nil
	case KindString:
		return StringValue(raw), nil
	default:
		return Value{}, fmt.Errorf("parse: unsupported data type %d", dt)
	}
}

// Reading is one sample returned by a device reader.
type Reading struct {
	Value     Value
	Timestamp time.Time
}
