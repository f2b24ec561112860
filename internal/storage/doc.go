// Package storage abstracts object storage behind one upload/download/
// delete/list contract. A Selector probes the configured backends in
// preference order (remote object store first, local filesystem fallback
// last) and fails over between them across calls, never within one.
package storage
