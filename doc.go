package tinytxn

/*
TinyTxn is the commit and crash-recovery core of a transactional storage kernel. Transactions are appended to a
durable log, published as committed once every lower transaction is committed, applied to storage, and closed. On
restart every transaction the log holds past the last closed one is replayed against storage before new commits are
accepted.

The code is organised as follows:

* kv/txnlog: log positions, committed command batches, the transaction log and the metadata cache.
* kv/txnid: the transaction id store, which tracks the allocated, appended, committed and closed watermarks.
* kv/commit: the per-transaction commitment and the live commit process.
* kv/storage: the storage engine contract, apply units and the badger and in-memory engines.
* kv/recovery: the recovery applier and the recovery driver.
* kv/kernel: wires the above together for one data directory.
* kv/status: an HTTP endpoint serving the watermarks and metrics.
* kv/txnkernel: the command line entry point.
*/
