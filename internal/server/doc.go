// Package server hosts the Fiber HTTP service that stands in for the fetch
// interception boundary. Read-only requests are handed to the active cache
// agent, everything else is forwarded to the origin untouched. The package
// keeps the boundary thin: request-ID and recover middleware, response
// writing (internal bookkeeping headers stripped, diagnostics headers
// added), and a Runtime that atomically swaps in a newly activated agent so
// a deploy takes over in-flight clients immediately.
package server
