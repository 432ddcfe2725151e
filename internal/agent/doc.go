// Package agent implements the offline cache agent that mediates between
// read-only site requests and the origin. It owns the versioned response
// store, the precache seeding lifecycle (install/activate with version
// sweeping), and the two caching strategies: stale-while-revalidate for
// whole pages and network-first-with-timeout for page fragments. The core
// entry point is Handle(ctx, request), a pure function over injected
// clock/timer/store/client so the event-subscription plumbing at the HTTP
// boundary stays a thin adapter.
package agent
