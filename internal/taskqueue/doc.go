// Package taskqueue implements the fire-and-forget background job queue:
// submit now, poll status and result later. It is intentionally separate
// from the synchronous executor pool so detached jobs never compete with
// fan-out work for the same workers.
package taskqueue
