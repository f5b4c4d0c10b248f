package vmspace

import (
	"context"
	"fmt"

	"github.com/hupe1980/vmspace/lockorder"
	"github.com/hupe1980/vmspace/region"
)

// InstallSpecial maps a named region that is not backed by an object, such
// as a vDSO. Special regions never merge. The range must be free.
func (as *AddressSpace) InstallSpecial(ctx context.Context, addr region.Addr, length uint64, prot region.Prot, name string) error {
	rng, err := as.checkRange(addr, length)
	if err != nil {
		return err
	}
	if !prot.Valid() {
		return invalidf("protection %#x", uint8(prot))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g := lockorder.LockMap(&as.mu)
	defer g.Unlock()
	if as.closed {
		return ErrClosed
	}
	if !as.layout.contains(rng) {
		return invalidf("special mapping %v outside the layout", rng)
	}
	if z, hit := as.layout.reservedOverlap(rng); hit {
		return invalidf("special mapping %v crosses reserved zone %v", rng, z)
	}
	if h := as.idx.FindIntersection(rng); !h.IsNil() {
		return invalidf("special mapping %v overlaps %v", rng, as.idx.Get(h).Range())
	}

	flags := region.FlagSpecial | as.defFlags
	pages := rng.Pages()
	if err := as.checkRegions(as.idx.Len() + 1); err != nil {
		return err
	}
	var locked uint64
	if flags.Has(region.FlagLocked) {
		locked = pages
	}
	if err := as.checkGrowth(pages, 0, locked, 0); err != nil {
		return err
	}

	h, r, err := as.idx.Alloc()
	if err != nil {
		return translateError(err)
	}
	r.Start, r.End = rng.Start, rng.End
	r.Prot = prot
	r.Flags = flags
	r.Backing = region.Special{Name: name}
	if err := as.idx.Insert(h); err != nil {
		panic(fmt.Sprintf("vmspace: special mapping %v: %v", rng, err))
	}
	as.acct.add(r, pages)
	as.logger.DebugContext(ctx, "special mapping installed", "name", name, "range", rng)
	return nil
}
