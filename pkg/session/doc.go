/*
Package session serializes access to individual sessions on top of a ports.Store.

A store on its own promises only per-call atomicity: two callers doing
load-modify-save on the same id may lose an update. Manager closes that gap
with a per-id in-process lock and, across replicas, an optional
ports.DistributedLocker such as the Redis Locker.
*/
package session
