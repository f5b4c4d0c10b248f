// Package lockorder encodes the lock hierarchy of an address space as
// capability types.
//
// # Hierarchy
//
//	structural lock (Map)
//	 ├── page-table lock (PageTable)
//	 └── shared-mapping lock (Mapping)
//	      └── reverse-map lock (Anon)
//
// An inner lock can only be acquired through the guard of the lock above it,
// so code that has not taken the structural lock cannot even name the call
// that takes the page-table lock. The one ordering rule the type system
// cannot express on its own, never taking a shared-mapping lock while a
// reverse-map lock is held, is checked at acquisition time and panics.
//
// Guards are owned by the goroutine that acquired them and must not be
// shared.
package lockorder
