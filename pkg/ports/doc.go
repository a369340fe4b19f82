/*
Package ports defines the contracts between session consumers and the storage
backends behind them.

# Key Interfaces

  - Store: create, load, save and delete session records.
  - ExpiredDeleter: optional eager purge of expired records, for periodic sweeps.
  - Lister: optional enumeration of live sessions.
  - DistributedLocker: cross-replica locking used by the session manager.

# Contract tests

RunStoreContract is a reusable suite every Store implementation runs from its
own tests. InsertWithRetry holds the bounded ID-collision loop shared by the
adapters' Create.
*/
package ports
