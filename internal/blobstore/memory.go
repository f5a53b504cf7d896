package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"
)

type memoryBlob struct {
	meta Object
	data []byte
}

// Memory is an in-process Store for tests and single-node development.
type Memory struct {
	mu       sync.RWMutex
	maxBytes int64
	blobs    map[string]memoryBlob
}

func NewMemory(maxBytes int64) *Memory {
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &Memory{maxBytes: maxBytes, blobs: make(map[string]memoryBlob)}
}

func (m *Memory) Put(_ context.Context, meta Object, body io.Reader) (Object, error) {
	data, err := readLimited(body, m.maxBytes)
	if err != nil {
		return Object{}, err
	}
	meta.Size = int64(len(data))
	meta.Digest = Digest(data)
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[Key(meta.ShipmentID, meta.Stage, meta.Name)] = memoryBlob{meta: meta, data: data}
	return meta, nil
}

func (m *Memory) Get(_ context.Context, shipmentID string, stage int, name string) (Object, io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[Key(shipmentID, stage, name)]
	if !ok {
		return Object{}, nil, ErrNotFound
	}
	return blob.meta, io.NopCloser(bytes.NewReader(blob.data)), nil
}
