// Package taskcoord is a cooperative, multi-process task scheduler
// that arbitrates access to a set of named resources shared across
// several independent processes running on the same host. Processes
// do not communicate directly; they coordinate through a shared
// filesystem directory tree, encoding pending tasks as files and
// handing off ownership with advisory file locks.
//
// At any moment each resource runs at most one task, the
// globally highest-priority pending task on a resource is selected
// next, and tasks abandoned by crashed peers are eventually reclaimed
// and discarded. See DESIGN.md in the module root for how each piece
// maps onto that contract.
package taskcoord
