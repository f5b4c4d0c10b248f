// Package snapshot encodes the region layout of an address space for
// checkpoints.
//
// Format:
//
//	header  [magic "VMSP"][version u16][compression u8][reserved u8]
//	blocks  repeated [uncompressed u32][compressed u32][data]
//	        compressed == 0 means the block is stored raw
//
// The concatenated block contents are the layout payload followed by a
// CRC32-C of the payload. All integers are little endian.
package snapshot
