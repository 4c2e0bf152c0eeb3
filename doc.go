/*
Package docdb implements a schema-validating document store on top of an
ordered key-value engine (Bolt on disk, or a copy-on-write B-tree in memory).

We implement:

1. Collections of schemaless documents identified by a primary key, with an
optional $jsonSchema-style validator applied on every write.

2. Secondary indexes (compound, unique, multikey, TTL) chosen automatically
by the query planner.

3. A filter language, projections and update operators modeled on MongoDB.

4. Aggregation pipelines ($match, $group, $unwind, $lookup, $bucket, $facet,
$project, $addFields, $sort, $skip, $limit, $count).

The mql subpackage parses the JSON forms of filters, updates, pipelines and
schemas.

# Technical Details

**Buckets.**
Every collection is a root bucket holding a "data" bucket keyed by the
encoded primary key, and one nested bucket per secondary index. The catalog
root bucket maps collection names to their msgpack-encoded metadata.

**Index ordinals.**
Each index gets a positive ordinal that is never reused within a collection,
so stale index key records can never be confused with a newer index.

**Key encoding.**
Index and primary keys use an order-preserving encoding: a type marker
byte in canonical type order, then a big-endian form of the value. Numbers
are a float64 followed by the int64 remainder lost in that conversion. Strings
are escaped and terminated so components can be concatenated. Descending
components are bit-complemented. Non-unique index keys end with the encoded
primary key.

**Value**: value header, then the msgpack document, then the list of index
keys the document contributed.

**Value header**:

1. Flags (uvarint). Low 4 bits hold the format version, currently 1.
2. Modification count (uvarint), starting at 1 and bumped on every write.
3. Document length (uvarint).

**Index key list**: count (uvarint), then for each entry the index ordinal
(uvarint) and the key (varbytes), sorted. On update, the old list is diffed
against the new rows to delete stale entries.
*/
package docdb
