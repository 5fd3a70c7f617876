// Package resource provides the handle arena shared by both backend environments.
//
// The backend identifies a transcoder by an address: a native pointer in
// the direct environment, an offset into linear memory in the isolated one.
// Neither is safe to hand to callers, so each environment keeps an Arena that
// maps small integer handles to those addresses:
//
//	arena := resource.NewArena()
//
//	// Store the backend address, get a handle
//	h, err := arena.Insert(resource.Rep(ptr))
//
//	// Resolve before every backend call
//	rep, ok := arena.Rep(h)
//
//	// Invalidate exactly once on delete
//	rep, ok := arena.Remove(h)
//
// Handle 0 is never issued. Removed slots are reused, so a stale handle can
// alias a newer transcoder; sessions guard against that by never reusing a
// handle after Destroy.
//
// # Observers
//
// Observers see every create and drop. Both environments attach one that
// logs handle traffic; Subscribe returns the function that detaches it:
//
//	cancel := arena.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("handle %d %s", e.Handle, e.Type)
//	}))
//	defer cancel()
//
// Close returns the addresses still live so the environment can delete them
// in the backend before tearing down.
package resource
