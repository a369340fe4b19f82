/*
Package observability exports session store activity as Prometheus metrics.

Metrics satisfies both caching.Observer and sweep.Observer, so one value can
be handed to every caching store and to the sweeper.
*/
package observability
