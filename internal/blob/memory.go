package blob

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sync"
)

// MemStore keeps blobs in process memory.
type MemStore struct {
	Container string

	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemStore(container string) *MemStore {
	if container == "" {
		container = "documents"
	}
	return &MemStore{Container: container, objects: map[string]memObject{}}
}

func (s *MemStore) Put(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = memObject{data: data, contentType: contentType}
	return "mem://" + s.Container + "/" + url.PathEscape(name), nil
}

func (s *MemStore) Get(ctx context.Context, path string) (Object, error) {
	name, err := url.PathUnescape(nameFromPath(path))
	if err != nil {
		return Object{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
	}, nil
}

func (s *MemStore) Delete(ctx context.Context, path string) error {
	name, err := url.PathUnescape(nameFromPath(path))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[name]; !ok {
		return ErrNotFound
	}
	delete(s.objects, name)
	return nil
}

// Len reports the number of stored blobs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
