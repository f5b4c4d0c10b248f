package snapshot

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLayout(n int) *Layout {
	l := &Layout{StartBrk: 0x600000, Brk: 0x621000, FreeHint: 0x7f0000000000}
	for i := 0; i < n; i++ {
		rec := Record{
			Start:  uint64(0x400000 + i*0x3000),
			End:    uint64(0x401000 + i*0x3000),
			Prot:   uint8(1 + i%7),
			Flags:  uint32(i % 3),
			Kind:   uint8(i % 4),
			Offset: uint64(i) * 0x1000,
		}
		if rec.Kind == 2 {
			rec.Object = fmt.Sprintf("objects/lib%d.so", i%5)
		}
		if i%6 == 0 {
			rec.PolicyMode = 2
			rec.PolicyNodes = []uint32{0, uint32(i % 4)}
		}
		l.Records = append(l.Records, rec)
	}
	return l
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, n := range []int{0, 3, 5000} {
			t.Run(fmt.Sprintf("%s/%d", c, n), func(t *testing.T) {
				want := sampleLayout(n)
				var buf bytes.Buffer
				require.NoError(t, Encode(&buf, want, c))

				got, err := Decode(&buf)
				require.NoError(t, err)
				if n == 0 {
					want.Records = []Record{}
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("layout mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestCompressionShrinksLargeLayouts(t *testing.T) {
	l := sampleLayout(5000)
	var raw, packed bytes.Buffer
	require.NoError(t, Encode(&raw, l, CompressionNone))
	require.NoError(t, Encode(&packed, l, CompressionZSTD))
	assert.Less(t, packed.Len(), raw.Len())
}

func TestDecodeErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleLayout(10), CompressionNone))
	good := buf.Bytes()

	t.Run("bad magic", func(t *testing.T) {
		_, err := Decode(bytes.NewReader([]byte("NOPE....")))
		assert.ErrorIs(t, err, ErrBadMagic)
	})
	t.Run("version", func(t *testing.T) {
		b := bytes.Clone(good)
		b[4] = 9
		_, err := Decode(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrVersion)
	})
	t.Run("checksum", func(t *testing.T) {
		b := bytes.Clone(good)
		b[headerSize+blockHeaderSize+3] ^= 0xff
		_, err := Decode(bytes.NewReader(b))
		assert.ErrorIs(t, err, ErrChecksum)
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(good[:len(good)-5]))
		assert.Error(t, err)
	})
}
