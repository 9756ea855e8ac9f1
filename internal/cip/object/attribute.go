package object

import (
	"reflect"

	"github.com/tturner/cipadapter/internal/cip/codec"
)

// Access describes which generic services may touch an attribute.
type Access uint8

const (
	GetSingle Access = 1 << iota
	GetAll
	SetSingle
	SetAll

	Gettable = GetSingle | GetAll
	Settable = SetSingle | SetAll
)

// Attribute describes one attribute of an instance. Value points at the
// storage the attribute reads from and writes to.
type Attribute struct {
	Number uint16
	Type   codec.DataType
	Value  any
	Access Access

	// BeforeSet may refuse a set by returning a *StatusError.
	BeforeSet func() error
	// AfterSet runs after the new value has been stored.
	AfterSet func()
}

// Mask selects attributes by number; bit n stands for attribute n.
// Attribute 0 and attributes above 63 are never selected.
type Mask uint64

// MaskOf builds a mask containing the given attribute numbers.
func MaskOf(attrs ...uint16) Mask {
	var m Mask
	for _, a := range attrs {
		if a > 0 && a < 64 {
			m |= 1 << a
		}
	}
	return m
}

// Has reports whether attribute n is selected.
func (m Mask) Has(n uint16) bool {
	return n > 0 && n < 64 && m&(1<<n) != 0
}

// scratch returns fresh storage of the same type as v so that a decode can
// be validated before it is committed.
func scratch(v any) any {
	if p, ok := v.(*[]byte); ok {
		b := make([]byte, len(*p))
		return &b
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return v
	}
	return reflect.New(rv.Elem().Type()).Interface()
}

func commit(dst, src any) {
	if p, ok := dst.(*[]byte); ok {
		copy(*p, *src.(*[]byte))
		return
	}
	reflect.ValueOf(dst).Elem().Set(reflect.ValueOf(src).Elem())
}
