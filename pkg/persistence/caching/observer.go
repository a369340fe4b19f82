package caching

// Observer receives the combinator's internal events.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	// CacheHit is called when a load is served by the cache tier.
	CacheHit()
	// CacheMiss is called when a load falls through to the backing tier.
	CacheMiss()
	// BackingLoad is called once per load issued to the backing tier.
	BackingLoad()
	// CoalescedWait is called when a load joins another caller's backing load.
	CoalescedWait()
	// CacheError is called for every swallowed cache-tier failure.
	CacheError(op string, err error)
}

type nopObserver struct{}

func (nopObserver) CacheHit()                {}
func (nopObserver) CacheMiss()               {}
func (nopObserver) BackingLoad()             {}
func (nopObserver) CoalescedWait()           {}
func (nopObserver) CacheError(string, error) {}
