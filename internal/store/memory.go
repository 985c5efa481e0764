package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"maps"
	"os"
	"sync"
	"time"
)

// MemoryObject is an object held by MemoryStore.
type MemoryObject struct {
	Body         []byte
	Metadata     map[string]string
	LastModified time.Time
}

func (o *MemoryObject) etag() string {
	sum := md5.Sum(o.Body)
	return hex.EncodeToString(sum[:])
}

func (o *MemoryObject) info() *ObjectInfo {
	return &ObjectInfo{
		Metadata:     maps.Clone(o.Metadata),
		ETag:         o.etag(),
		Size:         int64(len(o.Body)),
		ContentType:  defaultContentType,
		LastModified: o.LastModified,
	}
}

// MemoryStore is an in-process ObjectStore. It records the operations it
// served so callers can assert on side effects, and can be told to fail a
// given operation.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]*MemoryObject
	calls   []string
	failOn  map[string]error

	// MetadataUpdates toggles the MetadataUpdater capability.
	MetadataUpdates bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*MemoryObject),
		failOn:  make(map[string]error),
	}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

// Set stores an object directly, bypassing call recording.
func (m *MemoryStore) Set(bucket, key string, body []byte, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectID(bucket, key)] = &MemoryObject{
		Body:         append([]byte(nil), body...),
		Metadata:     maps.Clone(metadata),
		LastModified: time.Now().UTC(),
	}
}

// Object returns a copy of the stored object, or nil.
func (m *MemoryStore) Object(bucket, key string) *MemoryObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[objectID(bucket, key)]
	if !ok {
		return nil
	}
	return &MemoryObject{
		Body:         append([]byte(nil), obj.Body...),
		Metadata:     maps.Clone(obj.Metadata),
		LastModified: obj.LastModified,
	}
}

// FailOn makes every later call to op ("HeadObject", "GetObject",
// "PutObject", "CopyObject") return err. A nil err clears the failure.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOn, op)
		return
	}
	m.failOn[op] = err
}

// Calls returns the operations served so far, in order.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount counts how often op was served.
func (m *MemoryStore) CallCount(op string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (m *MemoryStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MemoryStore) begin(op, bucket, key string) error {
	m.calls = append(m.calls, op)
	if err, ok := m.failOn[op]; ok {
		return &ServiceError{Op: op, Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

// ===================================================================================================

func (m *MemoryStore) HeadMetadata(_ context.Context, bucket, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("HeadObject", bucket, key); err != nil {
		return nil, err
	}
	obj, ok := m.objects[objectID(bucket, key)]
	if !ok {
		return nil, notFound("HeadObject", bucket, key)
	}
	return obj.info(), nil
}

func (m *MemoryStore) GetObject(_ context.Context, bucket, key, destPath string) (*ObjectInfo, error) {
	m.mu.Lock()
	if err := m.begin("GetObject", bucket, key); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	obj, ok := m.objects[objectID(bucket, key)]
	if !ok {
		m.mu.Unlock()
		return nil, notFound("GetObject", bucket, key)
	}
	info := obj.info()
	body := append([]byte(nil), obj.Body...)
	m.mu.Unlock()

	if _, err := writeFileAtomic(destPath, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("write %s: %w", destPath, err)
	}
	return info, nil
}

func (m *MemoryStore) PutObject(_ context.Context, bucket, key, bodyPath string, metadata map[string]string) (*ObjectInfo, error) {
	body, err := os.ReadFile(bodyPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("PutObject", bucket, key); err != nil {
		return nil, err
	}
	obj := &MemoryObject{
		Body:         body,
		Metadata:     maps.Clone(metadata),
		LastModified: time.Now().UTC(),
	}
	m.objects[objectID(bucket, key)] = obj
	return obj.info(), nil
}

// UpdateMetadata implements MetadataUpdater. It is only advertised to callers
// through AsUpdater when MetadataUpdates is set.
func (m *MemoryStore) UpdateMetadata(_ context.Context, bucket, key, ifMatch string, metadata map[string]string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("CopyObject", bucket, key); err != nil {
		return nil, err
	}
	obj, ok := m.objects[objectID(bucket, key)]
	if !ok {
		return nil, notFound("CopyObject", bucket, key)
	}
	if ifMatch != "" && obj.etag() != ifMatch {
		return nil, &ServiceError{Op: "CopyObject", Bucket: bucket, Key: key, Code: "PreconditionFailed", Err: ErrPreconditionFailed}
	}
	obj.Metadata = maps.Clone(metadata)
	obj.LastModified = time.Now().UTC()
	return obj.info(), nil
}

// AsUpdater returns the store as a MetadataUpdater if the capability is
// enabled.
func (m *MemoryStore) AsUpdater() (MetadataUpdater, bool) {
	if !m.MetadataUpdates {
		return nil, false
	}
	return m, true
}

var (
	_ ObjectStore     = (*MemoryStore)(nil)
	_ UpdaterProvider = (*MemoryStore)(nil)
)
