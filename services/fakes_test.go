package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"paper-alerts/alerts"
	"paper-alerts/embedding"
	"paper-alerts/storage"
)

// fakeEmbedder liefert feste Vektoren je nach Stichwort im Text.
type fakeEmbedder struct {
	mu         sync.Mutex
	dims       int
	fail       bool
	wrongDims  bool
	keys       []string
	vectors    [][]float32
	batchCalls int
	embedCalls int
}

func newFakeEmbedder(dims int) *fakeEmbedder {
	return &fakeEmbedder{dims: dims}
}

func (f *fakeEmbedder) on(keyword string, vec ...float32) *fakeEmbedder {
	f.keys = append(f.keys, strings.ToLower(keyword))
	f.vectors = append(f.vectors, vec)
	return f
}

func (f *fakeEmbedder) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	lower := strings.ToLower(text)
	for i, k := range f.keys {
		if strings.Contains(lower, k) {
			return append([]float32{}, f.vectors[i]...)
		}
	}
	v := make([]float32, f.dims)
	v[f.dims-1] = 1
	return v
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	vecs, err := f.embedAll([]string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	return f.embedAll(texts)
}

func (f *fakeEmbedder) embedAll(texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.Join(embedding.ErrUnavailable, errors.New("connection refused"))
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectorFor(t)
		if f.wrongDims {
			out[i] = out[i][:len(out[i])-1]
		}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Dimensions() int   { return f.dims }

// fakeSource liefert feste Nachrichten und respektiert since und max.
type fakeSource struct {
	msgs  []alerts.Message
	err   error
	calls int
}

func (f *fakeSource) Fetch(ctx context.Context, since time.Time, max int) ([]alerts.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []alerts.Message
	for _, m := range f.msgs {
		if !since.IsZero() && m.ReceivedAt.Before(since) {
			continue
		}
		out = append(out, m)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out, nil
}

// memObjects ist eine ObjectStore-Attrappe im Speicher.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	mod     map[string]time.Time
	types   map[string]string
	putErr  error
	clock   time.Time
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects: map[string][]byte{},
		mod:     map[string]time.Time{},
		types:   map[string]string{},
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.clock = m.clock.Add(time.Minute)
	m.objects[key] = append([]byte{}, data...)
	m.mod[key] = m.clock
	m.types[key] = contentType
	return nil
}

func (m *memObjects) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return data, nil
}

func (m *memObjects) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Object
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.Object{Key: k, Size: int64(len(v)), LastModified: m.mod[k]})
		}
	}
	storage.SortNewestFirst(out)
	return out, nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.mod, key)
	delete(m.types, key)
	return nil
}

func (m *memObjects) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
