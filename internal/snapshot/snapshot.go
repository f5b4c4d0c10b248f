package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

const (
	magic   = "VMSP"
	version = 1

	headerSize = 8
)

var (
	// ErrBadMagic is returned for data that is not a layout snapshot.
	ErrBadMagic = errors.New("snapshot: bad magic")
	// ErrVersion is returned for snapshots written by a newer format.
	ErrVersion = errors.New("snapshot: unsupported version")
	// ErrChecksum is returned when the payload checksum does not match.
	ErrChecksum = errors.New("snapshot: checksum mismatch")
	// ErrTruncated is returned when the payload ends early.
	ErrTruncated = errors.New("snapshot: truncated payload")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Record describes one region.
type Record struct {
	Start       uint64
	End         uint64
	Prot        uint8
	Flags       uint32
	Kind        uint8
	Object      string
	Offset      uint64
	PolicyMode  uint8
	PolicyNodes []uint32
}

// Layout is the persisted state of an address space.
type Layout struct {
	StartBrk uint64
	Brk      uint64
	FreeHint uint64
	Records  []Record
}

// Encode writes l to w.
func Encode(w io.Writer, l *Layout, c Compression) error {
	if c > CompressionZSTD {
		return fmt.Errorf("snapshot: unknown compression %d", c)
	}

	hdr := make([]byte, headerSize)
	copy(hdr, magic)
	binary.LittleEndian.PutUint16(hdr[4:], version)
	hdr[6] = byte(c)
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	payload, err := marshal(l)
	if err != nil {
		return err
	}
	payload = binary.LittleEndian.AppendUint32(payload, crc32.Checksum(payload, castagnoli))
	return writeBlocks(w, payload, c)
}

// Decode reads a layout written by Encode.
func Decode(r io.Reader) (*Layout, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, ErrBadMagic
	}
	if string(hdr[:4]) != magic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint16(hdr[4:]); v != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}

	payload, err := readBlocks(r, Compression(hdr[6]))
	if err != nil {
		return nil, err
	}
	if len(payload) < 4 {
		return nil, ErrTruncated
	}
	body, sum := payload[:len(payload)-4], binary.LittleEndian.Uint32(payload[len(payload)-4:])
	if crc32.Checksum(body, castagnoli) != sum {
		return nil, ErrChecksum
	}
	return unmarshal(body)
}

func marshal(l *Layout) ([]byte, error) {
	if len(l.Records) > math.MaxUint32 {
		return nil, errors.New("snapshot: too many records")
	}
	buf := make([]byte, 0, 28+len(l.Records)*48)
	buf = binary.LittleEndian.AppendUint64(buf, l.StartBrk)
	buf = binary.LittleEndian.AppendUint64(buf, l.Brk)
	buf = binary.LittleEndian.AppendUint64(buf, l.FreeHint)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(l.Records)))

	for i := range l.Records {
		rec := &l.Records[i]
		if len(rec.Object) > math.MaxUint16 || len(rec.PolicyNodes) > math.MaxUint16 {
			return nil, fmt.Errorf("snapshot: record %d too large", i)
		}
		buf = binary.LittleEndian.AppendUint64(buf, rec.Start)
		buf = binary.LittleEndian.AppendUint64(buf, rec.End)
		buf = append(buf, rec.Prot, rec.Kind, rec.PolicyMode)
		buf = binary.LittleEndian.AppendUint32(buf, rec.Flags)
		buf = binary.LittleEndian.AppendUint64(buf, rec.Offset)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.Object)))
		buf = append(buf, rec.Object...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.PolicyNodes)))
		for _, n := range rec.PolicyNodes {
			buf = binary.LittleEndian.AppendUint32(buf, n)
		}
	}
	return buf, nil
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = ErrTruncated
	}
	return b
}

func (d *decoder) u8() uint8   { return d.read(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.read(8)) }

func unmarshal(body []byte) (*Layout, error) {
	d := &decoder{r: bytes.NewReader(body)}
	l := &Layout{
		StartBrk: d.u64(),
		Brk:      d.u64(),
		FreeHint: d.u64(),
	}
	n := d.u32()
	if d.err != nil {
		return nil, d.err
	}
	// Each record takes at least 35 bytes.
	if uint64(n)*35 > uint64(len(body)) {
		return nil, ErrTruncated
	}

	l.Records = make([]Record, n)
	for i := range l.Records {
		rec := &l.Records[i]
		rec.Start = d.u64()
		rec.End = d.u64()
		rec.Prot = d.u8()
		rec.Kind = d.u8()
		rec.PolicyMode = d.u8()
		rec.Flags = d.u32()
		rec.Offset = d.u64()
		rec.Object = string(d.read(int(d.u16())))
		if nodes := int(d.u16()); nodes > 0 {
			rec.PolicyNodes = make([]uint32, nodes)
			for j := range rec.PolicyNodes {
				rec.PolicyNodes[j] = d.u32()
			}
		}
		if d.err != nil {
			return nil, d.err
		}
	}
	if d.r.Len() != 0 {
		return nil, fmt.Errorf("snapshot: %d trailing bytes", d.r.Len())
	}
	return l, nil
}
