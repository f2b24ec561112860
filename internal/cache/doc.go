// Package cache implements the tiered read-through/write-through cache:
// a process-local TTL map in front of a distributed Redis tier, with the
// persistent origin store as the never-cached source of truth consulted by
// callers on a full miss.
package cache
