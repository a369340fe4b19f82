// Package redis stores sessions in Redis and provides a Redis-backed
// ports.DistributedLocker.
//
// Each session is one string key holding the encoded envelope. Keys carry a
// TTL derived from the record expiry, so Redis reaps expired sessions itself.
package redis
