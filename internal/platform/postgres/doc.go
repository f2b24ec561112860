// Package postgres implements the persistent origin store on PostgreSQL
// via the pgx stdlib driver. The cache hierarchy consults it on a full
// miss; batch jobs write chunks through BulkPut.
package postgres
