package object

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tturner/cipadapter/internal/cip/codec"
	"github.com/tturner/cipadapter/internal/cip/protocol"
	"github.com/tturner/cipadapter/internal/cip/spec"
)

type fixture struct {
	reg    *Registry
	class  *Class
	inst   *Instance
	vendor uint16
	status uint16
	name   string
	data   []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{vendor: 1, status: 0x30, name: "adapter", data: make([]byte, 4)}
	f.reg = NewRegistry(RegistryConfig{MaxInstancesPerClass: 2, Codec: codec.Default})

	var err error
	f.class, err = f.reg.RegisterClass(ClassConfig{
		ID:         0x64,
		Name:       "Test",
		Revision:   2,
		GetAllMask: MaskOf(1, 2, 3),
	})
	require.NoError(t, err)

	f.inst, err = f.class.CreateInstance(1)
	require.NoError(t, err)
	require.NoError(t, f.inst.AddAttribute(Attribute{Number: 1, Type: codec.TypeUint, Value: &f.vendor, Access: Gettable}))
	require.NoError(t, f.inst.AddAttribute(Attribute{Number: 2, Type: codec.TypeWord, Value: &f.status, Access: Gettable | Settable}))
	require.NoError(t, f.inst.AddAttribute(Attribute{Number: 3, Type: codec.TypeShortString, Value: &f.name, Access: GetAll}))
	require.NoError(t, f.inst.AddAttribute(Attribute{Number: 4, Type: codec.TypeByteArray, Value: &f.data, Access: GetSingle | SetSingle}))
	return f
}

func (f *fixture) invoke(service protocol.ServiceCode, instance, attr uint16, data []byte) protocol.Response {
	req := &protocol.Request{
		Service: service,
		Path:    codec.EPath{Class: f.class.ID, Instance: instance, Attribute: attr},
		Data:    data,
	}
	inst, ok := f.class.Instance(instance)
	if !ok {
		return protocol.Response{Service: service.Reply(), GeneralStatus: spec.StatusPathDestinationUnknown}
	}
	return f.class.InvokeService(inst, req)
}

func TestRegisterClass(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.RegisterClass(ClassConfig{ID: 0x64})
	assert.ErrorIs(t, err, ErrClassExists)

	c, ok := f.reg.Class(0x64)
	require.True(t, ok)
	assert.Same(t, f.class, c)

	_, err = f.reg.RegisterClass(ClassConfig{ID: 0x01})
	require.NoError(t, err)
	classes := f.reg.Classes()
	require.Len(t, classes, 2)
	assert.Equal(t, uint16(0x01), classes[0].ID)
}

func TestCreateInstance(t *testing.T) {
	f := newFixture(t)

	_, err := f.class.CreateInstance(0)
	assert.ErrorIs(t, err, ErrInvalidInstance)

	_, err = f.class.CreateInstance(1)
	assert.ErrorIs(t, err, ErrInstanceExists)

	_, err = f.class.CreateInstance(9)
	require.NoError(t, err)

	_, err = f.class.CreateInstance(10)
	assert.ErrorIs(t, err, ErrInstanceLimit)

	ids := []uint16{}
	for _, inst := range f.class.Instances() {
		ids = append(ids, inst.ID)
	}
	assert.Equal(t, []uint16{1, 9}, ids)
}

func TestFindInstance(t *testing.T) {
	f := newFixture(t)

	inst, err := f.reg.FindInstance(0x64, 1)
	require.NoError(t, err)
	assert.Same(t, f.inst, inst)

	self, err := f.reg.FindInstance(0x64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), self.ID)

	for _, tc := range []struct{ class, instance uint16 }{{0x99, 1}, {0x64, 7}} {
		_, err := f.reg.FindInstance(tc.class, tc.instance)
		general, _ := StatusOf(err)
		assert.Equal(t, uint8(spec.StatusPathDestinationUnknown), general)
	}
}

func TestGetAttributeSingle(t *testing.T) {
	f := newFixture(t)

	resp := f.invoke(spec.CIPServiceGetAttributeSingle, 1, 1, nil)
	assert.Equal(t, protocol.ServiceCode(0x8E), resp.Service)
	assert.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
	assert.Equal(t, []byte{0x01, 0x00}, resp.Data)

	// attribute 3 is get-all only
	resp = f.invoke(spec.CIPServiceGetAttributeSingle, 1, 3, nil)
	assert.Equal(t, uint8(spec.StatusAttributeNotSupported), resp.GeneralStatus)
	assert.Empty(t, resp.Data)

	resp = f.invoke(spec.CIPServiceGetAttributeSingle, 1, 42, nil)
	assert.Equal(t, uint8(spec.StatusAttributeNotSupported), resp.GeneralStatus)
}

func TestGetAttributeAll(t *testing.T) {
	f := newFixture(t)

	resp := f.invoke(spec.CIPServiceGetAttributeAll, 1, 0, nil)
	require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
	want := []byte{0x01, 0x00, 0x30, 0x00, 0x07, 'a', 'd', 'a', 'p', 't', 'e', 'r'}
	assert.Equal(t, want, resp.Data)

	f.class.GetAllMask = 0
	resp = f.invoke(spec.CIPServiceGetAttributeAll, 1, 0, nil)
	assert.Equal(t, uint8(spec.StatusServiceNotSupported), resp.GeneralStatus)
}

func TestClassAttributes(t *testing.T) {
	f := newFixture(t)
	_, err := f.class.CreateInstance(2)
	require.NoError(t, err)

	resp := f.invoke(spec.CIPServiceGetAttributeAll, 0, 0, nil)
	require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
	// revision 2, max instance 2, count 2, max class attr 7, max instance attr 4
	assert.Equal(t, []byte{2, 0, 2, 0, 2, 0, 7, 0, 4, 0}, resp.Data)

	raw, err := f.reg.GetAttribute(0x64, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0}, raw)
}

func TestSetAttributeSingle(t *testing.T) {
	t.Run("stores value", func(t *testing.T) {
		f := newFixture(t)
		called := false
		a, _ := f.inst.Attribute(2)
		a.AfterSet = func() { called = true }

		resp := f.invoke(spec.CIPServiceSetAttributeSingle, 1, 2, []byte{0x34, 0x12})
		require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
		assert.Equal(t, uint16(0x1234), f.status)
		assert.True(t, called)
	})

	t.Run("not settable", func(t *testing.T) {
		f := newFixture(t)
		resp := f.invoke(spec.CIPServiceSetAttributeSingle, 1, 1, []byte{0x02, 0x00})
		assert.Equal(t, uint8(spec.StatusAttributeNotSupported), resp.GeneralStatus)
		assert.Equal(t, uint16(1), f.vendor)
	})

	t.Run("missing attribute", func(t *testing.T) {
		f := newFixture(t)
		resp := f.invoke(spec.CIPServiceSetAttributeSingle, 1, 9, []byte{0x02, 0x00})
		assert.Equal(t, uint8(spec.StatusAttributeNotSupported), resp.GeneralStatus)
	})

	t.Run("short data leaves value", func(t *testing.T) {
		f := newFixture(t)
		resp := f.invoke(spec.CIPServiceSetAttributeSingle, 1, 2, []byte{0x34})
		assert.Equal(t, uint8(spec.StatusNotEnoughData), resp.GeneralStatus)
		assert.Equal(t, uint16(0x30), f.status)
	})

	t.Run("extra data leaves value", func(t *testing.T) {
		f := newFixture(t)
		resp := f.invoke(spec.CIPServiceSetAttributeSingle, 1, 2, []byte{0x34, 0x12, 0x00})
		assert.Equal(t, uint8(spec.StatusTooMuchData), resp.GeneralStatus)
		assert.Equal(t, uint16(0x30), f.status)
	})

	t.Run("byte array keeps backing storage", func(t *testing.T) {
		f := newFixture(t)
		backing := f.data
		resp := f.invoke(spec.CIPServiceSetAttributeSingle, 1, 4, []byte{1, 2, 3, 4})
		require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
		assert.Equal(t, []byte{1, 2, 3, 4}, backing)
	})

	t.Run("before set refuses", func(t *testing.T) {
		f := newFixture(t)
		a, _ := f.inst.Attribute(2)
		a.BeforeSet = func() error { return Status(spec.StatusObjectStateConflict) }
		resp := f.invoke(spec.CIPServiceSetAttributeSingle, 1, 2, []byte{0x34, 0x12})
		assert.Equal(t, uint8(spec.StatusObjectStateConflict), resp.GeneralStatus)
		assert.Equal(t, uint16(0x30), f.status)
	})
}

func TestSetAttributeAll(t *testing.T) {
	f := newFixture(t)
	f.class.AddService(Service{Code: spec.CIPServiceSetAttributeAll, Name: "Set_Attribute_All", Handler: SetAttributeAll})

	resp := f.invoke(spec.CIPServiceSetAttributeAll, 1, 0, []byte{0x11, 0x00})
	require.Equal(t, uint8(spec.StatusSuccess), resp.GeneralStatus)
	assert.Equal(t, uint16(0x11), f.status)

	resp = f.invoke(spec.CIPServiceSetAttributeAll, 1, 0, []byte{0x22})
	assert.Equal(t, uint8(spec.StatusNotEnoughData), resp.GeneralStatus)
	assert.Equal(t, uint16(0x11), f.status)
}

func TestUnknownService(t *testing.T) {
	f := newFixture(t)
	resp := f.invoke(0x4B, 1, 0, nil)
	assert.Equal(t, protocol.ServiceCode(0xCB), resp.Service)
	assert.Equal(t, uint8(spec.StatusServiceNotSupported), resp.GeneralStatus)
}

func TestAddAttributeErrors(t *testing.T) {
	f := newFixture(t)
	var v uint8
	assert.ErrorIs(t, f.inst.AddAttribute(Attribute{Number: 0, Type: codec.TypeUsint, Value: &v}), ErrInvalidNumber)
	assert.ErrorIs(t, f.inst.AddAttribute(Attribute{Number: 1, Type: codec.TypeUsint, Value: &v}), ErrAttributeExists)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want uint8
	}{
		{nil, spec.StatusSuccess},
		{Status(spec.StatusObjectStateConflict), spec.StatusObjectStateConflict},
		{codec.ErrShortBuffer, spec.StatusNotEnoughData},
		{codec.ErrMalformedPath, spec.StatusPathSegmentError},
		{codec.ErrValueTooLong, spec.StatusInvalidAttributeValue},
		{errors.New("boom"), spec.StatusVendorSpecific},
	}
	for _, tt := range tests {
		got, _ := StatusOf(tt.err)
		assert.Equal(t, tt.want, got, "err %v", tt.err)
	}

	_, ext := StatusOf(Status(spec.StatusConnectionFailure, spec.ExtConnectionInUse))
	assert.Equal(t, []uint16{spec.ExtConnectionInUse}, ext)
}

func TestMask(t *testing.T) {
	m := MaskOf(0, 1, 7, 64)
	assert.False(t, m.Has(0))
	assert.True(t, m.Has(1))
	assert.True(t, m.Has(7))
	assert.False(t, m.Has(64))
}
