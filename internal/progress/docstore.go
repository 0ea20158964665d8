package progress

import (
	"context"
	"fmt"
	"sync"

	"gocloud.dev/docstore"
	"gocloud.dev/docstore/memdocstore"
	"gocloud.dev/gcerrors"
)

// progressDocID is the key of the single document holding the list.
const progressDocID = "progress"

// ProgressDoc is the docstore document holding the list.
type ProgressDoc struct {
	ID      string   `docstore:"id"`
	Modules []string `docstore:"modules"`
}

// DocStore keeps the list as one document in a gocloud docstore collection.
// The collection must use "id" as its key field.
type DocStore struct {
	mu   sync.Mutex
	coll *docstore.Collection
	// reopen, when set, closes and reopens the collection after each Save.
	// memdocstore only writes its file on Close.
	reopen func() (*docstore.Collection, error)
}

func NewDocStore(coll *docstore.Collection) *DocStore { return &DocStore{coll: coll} }

// OpenMemDocStore opens an in-memory collection backed by filename. Every
// Save is written to the file before it returns. An empty filename keeps
// nothing between runs.
func OpenMemDocStore(filename string) (*DocStore, error) {
	open := func() (*docstore.Collection, error) {
		var opts *memdocstore.Options
		if filename != "" {
			opts = &memdocstore.Options{Filename: filename}
		}
		coll, err := memdocstore.OpenCollection("id", opts)
		if err != nil {
			return nil, fmt.Errorf("open progress collection: %w", err)
		}
		return coll, nil
	}
	coll, err := open()
	if err != nil {
		return nil, err
	}
	s := &DocStore{coll: coll}
	if filename != "" {
		s.reopen = open
	}
	return s, nil
}

func (s *DocStore) Load(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := &ProgressDoc{ID: progressDocID}
	if err := s.coll.Get(ctx, doc); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return doc.Modules, nil
}

func (s *DocStore) Save(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.coll.Put(ctx, &ProgressDoc{ID: progressDocID, Modules: ids}); err != nil {
		return err
	}
	if s.reopen == nil {
		return nil
	}
	if err := s.coll.Close(); err != nil {
		return fmt.Errorf("flush progress collection: %w", err)
	}
	coll, err := s.reopen()
	if err != nil {
		return err
	}
	s.coll = coll
	return nil
}

func (s *DocStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Close()
}
