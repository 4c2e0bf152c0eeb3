package docdb

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	catalogBucketName = "_catalog"
	dataBucketName    = "data"
	indexBucketPrefix = "i_"
	defaultKeyField   = "_id"
)

// catalogEntry is the persisted description of a collection.
type catalogEntry struct {
	ID               string           `msgpack:"id"`
	Name             string           `msgpack:"n"`
	Version          uint64           `msgpack:"v"`
	KeyField         string           `msgpack:"k"`
	Schema           *FieldSpec       `msgpack:"s,omitempty"`
	Policy           ValidationPolicy `msgpack:"p"`
	LastIndexOrdinal uint64           `msgpack:"li"`
	Indexes          []*indexState    `msgpack:"i"`
	Created          time.Time        `msgpack:"t"`
}

type indexState struct {
	Ordinal  uint64          `msgpack:"o"`
	Desc     IndexDescriptor `msgpack:"d"`
	Multikey bool            `msgpack:"m,omitempty"`
}

func (is *indexState) bucketName() string {
	return indexBucketPrefix + is.Desc.Name
}

// collState is an immutable, compiled view of a catalog entry. A change to
// the catalog produces a new collState with a higher version.
type collState struct {
	entry      catalogEntry
	schema     *Schema
	indexes    []*indexState
	arrayPaths []string
}

func (cs *collState) name() string     { return cs.entry.Name }
func (cs *collState) keyField() string { return cs.entry.KeyField }

func (cs *collState) indexByName(name string) *indexState {
	for _, is := range cs.indexes {
		if is.Desc.Name == name {
			return is
		}
	}
	return nil
}

func (cs *collState) indexByOrdinal(ord uint64) *indexState {
	for _, is := range cs.indexes {
		if is.Ordinal == ord {
			return is
		}
	}
	return nil
}

func compileCollState(entry catalogEntry) (*collState, error) {
	cs := &collState{entry: entry, indexes: entry.Indexes}
	if entry.Schema != nil {
		schema, err := CompileSchema(*entry.Schema)
		if err != nil {
			return nil, err
		}
		cs.schema = schema
		cs.arrayPaths = schema.arrayPaths()
	}
	return cs, nil
}

// modified returns a copy of the entry with its own index list, ready to be
// changed and saved with tx.saveCollection.
func (cs *collState) modified() catalogEntry {
	entry := cs.entry
	entry.Indexes = make([]*indexState, len(cs.entry.Indexes))
	for i, is := range cs.entry.Indexes {
		c := *is
		entry.Indexes[i] = &c
	}
	entry.Version++
	return entry
}

func keyOf(cs *collState, doc *Doc) any {
	v, _ := doc.Get(cs.keyField())
	return v
}

// CollectionOptions configure a new collection.
type CollectionOptions struct {
	// Schema enables validation; nil accepts any document.
	Schema *FieldSpec
	Policy ValidationPolicy
	// KeyField names the primary key field, "_id" by default.
	KeyField string
}

// CollectionInfo describes a collection as reported by ListCollections.
type CollectionInfo struct {
	Name     string
	KeyField string
	Schema   *FieldSpec
	Policy   ValidationPolicy
	Indexes  []string
	Created  time.Time
}

func validateCollectionName(name string) error {
	if name == "" || strings.HasPrefix(name, "_") || strings.ContainsAny(name, "\x00$") || len(name) > 120 {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// collection returns the compiled state of a collection as seen by this
// transaction.
func (tx *Tx) collection(name string) (*collState, error) {
	if cs, ok := tx.catalog[name]; ok {
		if cs == nil {
			return nil, collErrf(name, "", nil, ErrUnknownCollection, "")
		}
		return cs, nil
	}
	buck := tx.stx.Bucket(catalogBucketName, "")
	var raw []byte
	if buck != nil {
		raw = buck.Get([]byte(name))
	}
	if raw == nil {
		return nil, collErrf(name, "", nil, ErrUnknownCollection, "")
	}
	var entry catalogEntry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		return nil, collErrf(name, "", nil, dataErrf(raw, 0, err, "invalid catalog entry"), "")
	}
	cs, err := tx.store.compiledState(entry)
	if err != nil {
		return nil, collErrf(name, "", nil, err, "")
	}
	tx.catalog[name] = cs
	return cs, nil
}

func (tx *Tx) saveCollection(entry catalogEntry) (*collState, error) {
	cs, err := compileCollState(entry)
	if err != nil {
		return nil, collErrf(entry.Name, "", nil, err, "")
	}
	raw, err := msgpack.Marshal(&entry)
	if err != nil {
		return nil, collErrf(entry.Name, "", nil, err, "failed to encode catalog entry")
	}
	buck, err := tx.stx.CreateBucket(catalogBucketName, "")
	if err != nil {
		return nil, err
	}
	if err := buck.Put([]byte(entry.Name), raw); err != nil {
		return nil, err
	}
	tx.catalog[entry.Name] = cs
	tx.catalogChanged = append(tx.catalogChanged, cs)
	tx.written = true
	return cs, nil
}

func (tx *Tx) markMultikey(cs *collState, ords []uint64) (*collState, error) {
	entry := cs.modified()
	for _, is := range entry.Indexes {
		if slices.Contains(ords, is.Ordinal) {
			is.Multikey = true
		}
	}
	if tx.store.verbose {
		tx.store.logger.Debug("index.multikey", zap.String("collection", cs.name()), zap.Uint64s("ordinals", ords))
	}
	return tx.saveCollection(entry)
}

func (tx *Tx) createCollection(name string, opt CollectionOptions, now time.Time) (*collState, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	if _, err := tx.collection(name); err == nil {
		return nil, collErrf(name, "", nil, ErrCollectionExists, "")
	}
	keyField := opt.KeyField
	if keyField == "" {
		keyField = defaultKeyField
	}
	if strings.Contains(keyField, ".") {
		return nil, fmt.Errorf("%w: key field %q must be a top-level field", ErrInvalidKey, keyField)
	}
	entry := catalogEntry{
		ID:       uuid.NewString(),
		Name:     name,
		Version:  1,
		KeyField: keyField,
		Schema:   opt.Schema,
		Policy:   opt.Policy,
		Created:  now.UTC(),
	}
	if _, err := tx.stx.CreateBucket(name, dataBucketName); err != nil {
		return nil, err
	}
	return tx.saveCollection(entry)
}

func (tx *Tx) dropCollection(name string) error {
	if _, err := tx.collection(name); err != nil {
		return err
	}
	if err := tx.stx.DeleteBucket(name, ""); err != nil && err != ErrBucketNotFound {
		return err
	}
	if err := tx.stx.Bucket(catalogBucketName, "").Delete([]byte(name)); err != nil {
		return err
	}
	tx.catalog[name] = nil
	tx.dropped = append(tx.dropped, name)
	tx.written = true
	return nil
}

func (tx *Tx) listCollections() ([]CollectionInfo, error) {
	buck := tx.stx.Bucket(catalogBucketName, "")
	if buck == nil {
		return nil, nil
	}
	var out []CollectionInfo
	c := buck.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		cs, err := tx.collection(string(k))
		if err != nil {
			return nil, err
		}
		info := CollectionInfo{
			Name:     cs.name(),
			KeyField: cs.keyField(),
			Schema:   cs.entry.Schema,
			Policy:   cs.entry.Policy,
			Created:  cs.entry.Created,
		}
		info.Indexes = append(info.Indexes, PrimaryIndexName)
		for _, is := range cs.indexes {
			info.Indexes = append(info.Indexes, is.Desc.Name)
		}
		out = append(out, info)
	}
	return out, nil
}
