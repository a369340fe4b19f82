// Package memory provides an in-process ports.Store.
//
// It is exact (nothing is evicted behind the caller's back) and accepts an
// injectable clock, which makes it the reference backend for tests. With
// WithMaxTTL it also serves as a simple unbounded cache tier.
package memory
