package docdb

import (
	"context"

	"go.uber.org/zap"
)

// CreateCollection registers a new, empty collection. A schema, if given, is
// compiled up front so an invalid one fails here rather than on first write.
func (s *Store) CreateCollection(ctx context.Context, name string, opt CollectionOptions) error {
	if opt.Schema != nil {
		if _, err := CompileSchema(*opt.Schema); err != nil {
			return collErrf(name, "", nil, err, "")
		}
	}
	err := s.update(ctx, func(tx *Tx) error {
		_, err := tx.createCollection(name, opt, s.now())
		return err
	})
	if err == nil {
		s.logger.Debug("collection.create", zap.String("collection", name), zap.Stringer("policy", opt.Policy))
	}
	return err
}

// DropCollection removes a collection with all of its documents and indexes.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	err := s.update(ctx, func(tx *Tx) error {
		return tx.dropCollection(name)
	})
	if err == nil {
		s.logger.Debug("collection.drop", zap.String("collection", name))
	}
	return err
}

// ListCollections returns the collections in name order.
func (s *Store) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var out []CollectionInfo
	err := s.view(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.listCollections()
		return err
	})
	return out, err
}

// SetValidation replaces the schema and policy of a collection. Resident
// documents are not revalidated.
func (s *Store) SetValidation(ctx context.Context, name string, schema *FieldSpec, policy ValidationPolicy) error {
	if schema != nil {
		if _, err := CompileSchema(*schema); err != nil {
			return collErrf(name, "", nil, err, "")
		}
	}
	return s.update(ctx, func(tx *Tx) error {
		cs, err := tx.collection(name)
		if err != nil {
			return err
		}
		entry := cs.modified()
		entry.Schema = schema
		entry.Policy = policy
		_, err = tx.saveCollection(entry)
		return err
	})
}
