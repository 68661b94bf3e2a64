package engine_util

/*
An engine is a low-level system for storing key/value pairs locally (without distribution or any transaction support,
etc.). This package contains code for interacting with such engines.

CF means 'column family'. In short, a column family is a key namespace. Here a column family is emulated by prefixing
keys with the family name, so writes stay atomic across column families of the same engine.

engine_util includes the following packages:

* engines: the two badger engines used by the kernel, the storage (kv) engine and the transaction log engine which
  also keeps the transaction id store metadata.
* write_batch: code to batch writes into a single, atomic 'transaction'.
* cf_iterator: code to iterate over a whole column family in badger.
*/
