// Package spear is the runtime library a workload process links against to
// talk to its controlling host over a single framed TCP connection.
//
// A workload is spawned by the host with SERVICE_ADDR and SECRET set in its
// environment. Calling Run (or constructing a Runtime and calling its Start
// and then its Run method) performs the handshake, brings up the
// sender/receiver goroutines, and blocks the caller in the dispatch loop
// until the host sends a Terminate signal or Stop is called explicitly.
//
// On the wire every frame is a u64 little-endian length followed by exactly
// that many bytes of envelope; every envelope is exactly one of a Request,
// a Response, or a Signal, see the wire subpackage for the concrete layout.
package spear
