// Package backing provides the objects that regions map: files read from a
// blob store and anonymous shared memory.
//
// Each object keeps the regions that map it in three collections (private,
// shared, non-linear) guarded by the object's shared-mapping lock, which is
// taken through lockorder so it always nests inside the structural lock of
// the address space.
package backing
