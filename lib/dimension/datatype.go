// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import "fmt"

// DataType identifies the element type of the array. Values are
// stable: they appear in settings files.
type DataType uint8

const (
	UInt8 DataType = iota
	UInt16
	UInt32
	UInt64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

// Size returns the element size in bytes.
func (d DataType) Size() int {
	switch d {
	case UInt8, Int8:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case UInt64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// String returns the settings-file name of the data type.
func (d DataType) String() string {
	switch d {
	case UInt8:
		return "uint8"
	case UInt16:
		return "uint16"
	case UInt32:
		return "uint32"
	case UInt64:
		return "uint64"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// ParseDataType parses a data type from its settings-file name.
func ParseDataType(name string) (DataType, error) {
	switch name {
	case "uint8":
		return UInt8, nil
	case "uint16":
		return UInt16, nil
	case "uint32":
		return UInt32, nil
	case "uint64":
		return UInt64, nil
	case "int8":
		return Int8, nil
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown data type: %q", name)
	}
}

// ZarrV2Name returns the NumPy-style dtype string used in .zarray
// metadata. Multi-byte types are little-endian.
func (d DataType) ZarrV2Name() string {
	switch d {
	case UInt8:
		return "|u1"
	case UInt16:
		return "<u2"
	case UInt32:
		return "<u4"
	case UInt64:
		return "<u8"
	case Int8:
		return "|i1"
	case Int16:
		return "<i2"
	case Int32:
		return "<i4"
	case Int64:
		return "<i8"
	case Float32:
		return "<f4"
	case Float64:
		return "<f8"
	default:
		return ""
	}
}

// ZarrV3Name returns the data_type string used in zarr.json array
// metadata.
func (d DataType) ZarrV3Name() string {
	switch d {
	case UInt8:
		return "uint8"
	case UInt16:
		return "uint16"
	case UInt32:
		return "uint32"
	case UInt64:
		return "uint64"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return ""
	}
}
