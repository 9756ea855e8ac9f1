package object

import (
	"errors"
	"fmt"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/spec"
)

var (
	ErrClassExists     = errors.New("class already registered")
	ErrInstanceExists  = errors.New("instance already exists")
	ErrInstanceLimit   = errors.New("instance limit reached")
	ErrInvalidInstance = errors.New("instance id 0 is reserved for the class")
	ErrAttributeExists = errors.New("attribute already exists")
	ErrInvalidNumber   = errors.New("attribute number 0 is reserved")
)

// StatusError carries a CIP general status and optional extended status
// words back to the message router.
type StatusError struct {
	General uint8
	Ext     []uint16
}

// Status returns a *StatusError for general and ext.
func Status(general uint8, ext ...uint16) *StatusError {
	return &StatusError{General: general, Ext: ext}
}

func (e *StatusError) Error() string {
	if len(e.Ext) > 0 {
		return fmt.Sprintf("cip status 0x%02X (%s) ext 0x%04X", e.General, spec.StatusName(e.General), e.Ext[0])
	}
	return fmt.Sprintf("cip status 0x%02X (%s)", e.General, spec.StatusName(e.General))
}

// StatusOf maps err to the general and extended status reported on the wire.
func StatusOf(err error) (uint8, []uint16) {
	if err == nil {
		return spec.StatusSuccess, nil
	}
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.General, se.Ext
	case errors.Is(err, codec.ErrShortBuffer):
		return spec.StatusNotEnoughData, nil
	case errors.Is(err, codec.ErrMalformedPath), errors.Is(err, codec.ErrUnsupportedSegment):
		return spec.StatusPathSegmentError, nil
	case errors.Is(err, codec.ErrValueTooLong):
		return spec.StatusInvalidAttributeValue, nil
	}
	return spec.StatusVendorSpecific, nil
}
