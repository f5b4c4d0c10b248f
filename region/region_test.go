package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrRounding(t *testing.T) {
	tests := []struct {
		in        Addr
		down, up  Addr
		upOK      bool
		isAligned bool
	}{
		{0, 0, 0, true, true},
		{1, 0, PageSize, true, false},
		{PageSize, PageSize, PageSize, true, true},
		{PageSize + 1, PageSize, 2 * PageSize, true, false},
		{^Addr(0), ^Addr(0) &^ PageMask, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.down, tt.in.RoundDown())
			up, ok := tt.in.RoundUp()
			assert.Equal(t, tt.upOK, ok)
			if ok {
				assert.Equal(t, tt.up, up)
			}
			assert.Equal(t, tt.isAligned, tt.in.IsPageAligned())
		})
	}
}

func TestAddLength(t *testing.T) {
	end, ok := Addr(PageSize).AddLength(PageSize)
	assert.True(t, ok)
	assert.Equal(t, Addr(2*PageSize), end)

	_, ok = (^Addr(0) - PageMask).AddLength(2 * PageSize)
	assert.False(t, ok)

	r, ok := Addr(0x1000).ToRange(0x2000)
	assert.True(t, ok)
	assert.Equal(t, Range{Start: 0x1000, End: 0x3000}, r)
	assert.Equal(t, uint64(2), r.Pages())
}

func TestRange(t *testing.T) {
	r := Range{Start: 0x1000, End: 0x4000}

	assert.True(t, r.WellFormed())
	assert.False(t, Range{Start: 2, End: 1}.WellFormed())
	assert.True(t, r.Contains(0x1000))
	assert.False(t, r.Contains(0x4000))

	assert.True(t, r.Overlaps(Range{Start: 0x3000, End: 0x5000}))
	assert.False(t, r.Overlaps(Range{Start: 0x4000, End: 0x5000}))

	assert.True(t, r.IsSupersetOf(Range{Start: 0x2000, End: 0x3000}))
	assert.False(t, r.IsSupersetOf(Range{Start: 0x2000, End: 0x5000}))

	assert.Equal(t, Range{Start: 0x3000, End: 0x4000}, r.Intersect(Range{Start: 0x3000, End: 0x9000}))
	assert.Zero(t, r.Intersect(Range{Start: 0x8000, End: 0x9000}).Length())
	assert.Equal(t, "[0x1000, 0x4000)", r.String())
}

func TestProtFlagsString(t *testing.T) {
	assert.Equal(t, "---", ProtNone.String())
	assert.Equal(t, "rw-", (ProtRead | ProtWrite).String())
	assert.Equal(t, "r-x", (ProtRead | ProtExec).String())
	assert.True(t, ProtAll.Valid())
	assert.False(t, Prot(8).Valid())
	assert.False(t, ProtNone.Any())

	assert.Equal(t, "private", Flags(0).String())
	assert.Equal(t, "shared|locked", (FlagShared | FlagLocked).String())
	assert.True(t, (FlagShared | FlagLocked).Has(FlagLocked))
	assert.False(t, FlagShared.Has(FlagShared|FlagLocked))
}

type fakeObject struct {
	Mappable
	name string
}

func (f *fakeObject) Name() string { return f.name }

func TestBackingShift(t *testing.T) {
	obj := &fakeObject{name: "libc.so"}

	b := Shift(File{Object: obj, Offset: 0x1000}, 0x2000)
	o, off, ok := ObjectOf(b)
	assert.True(t, ok)
	assert.Same(t, obj, o)
	assert.Equal(t, uint64(0x3000), off)
	assert.Equal(t, File{Object: obj, Offset: 0x1000}, Unshift(b, 0x2000))

	assert.Equal(t, AnonPrivate{}, Shift(AnonPrivate{}, 0x1000))
	_, _, ok = ObjectOf(Special{Name: "[vdso]"})
	assert.False(t, ok)
}

func TestRegion(t *testing.T) {
	obj := &fakeObject{name: "data.bin"}
	r := Region{
		Start:   0x10000,
		End:     0x13000,
		Prot:    ProtRead,
		Flags:   FlagShared,
		Backing: File{Object: obj, Offset: 0x4000},
	}

	assert.Equal(t, uint64(3), r.Pages())
	assert.Equal(t, KindFile, r.Kind())
	assert.Equal(t, CollectionShared, r.Collection())
	assert.Equal(t, uint64(0x4000), r.Offset())

	v := r.View()
	assert.Equal(t, "data.bin", v.Object)
	assert.Equal(t, "[0x10000, 0x13000) r-- shared data.bin@0x4000", v.String())

	r.Flags |= FlagNonLinear
	assert.Equal(t, CollectionNonLinear, r.Collection())

	var anon Region
	assert.Equal(t, KindAnonPrivate, anon.Kind())
	assert.Nil(t, anon.Object())
	assert.Equal(t, CollectionPrivate, anon.Collection())
}
