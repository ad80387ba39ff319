package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type listStore struct {
	objects   []Object
	deleted   []string
	deleteErr error
}

func (l *listStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return nil
}

func (l *listStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (l *listStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for _, o := range l.objects {
		if strings.HasPrefix(o.Key, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (l *listStore) Delete(ctx context.Context, key string) error {
	if l.deleteErr != nil {
		return l.deleteErr
	}
	l.deleted = append(l.deleted, key)
	return nil
}

func TestRotate(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	objects := []Object{
		{Key: "exports/a", LastModified: base.Add(1 * time.Hour)},
		{Key: "exports/d", LastModified: base.Add(4 * time.Hour)},
		{Key: "exports/b", LastModified: base.Add(2 * time.Hour)},
		{Key: "exports/c", LastModified: base.Add(3 * time.Hour)},
		{Key: "alerts/x", LastModified: base},
	}

	tests := []struct {
		name string
		keep int
		want []string
	}{
		{name: "keep two", keep: 2, want: []string{"exports/b", "exports/a"}},
		{name: "keep all", keep: 10, want: nil},
		{name: "zero keeps everything", keep: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &listStore{objects: append([]Object{}, objects...)}
			deleted, err := Rotate(context.Background(), st, "exports/", tt.keep)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(deleted, ",") != strings.Join(tt.want, ",") {
				t.Errorf("deleted = %v, want %v", deleted, tt.want)
			}
			if strings.Join(st.deleted, ",") != strings.Join(tt.want, ",") {
				t.Errorf("store deletes = %v", st.deleted)
			}
		})
	}
}

func TestRotateStopsOnDeleteError(t *testing.T) {
	st := &listStore{
		objects: []Object{
			{Key: "exports/a", LastModified: time.Unix(1, 0)},
			{Key: "exports/b", LastModified: time.Unix(2, 0)},
		},
		deleteErr: errors.New("access denied"),
	}
	if _, err := Rotate(context.Background(), st, "exports/", 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestSortNewestFirstTieBreak(t *testing.T) {
	same := time.Unix(100, 0)
	objs := []Object{{Key: "a", LastModified: same}, {Key: "c", LastModified: same}, {Key: "b", LastModified: same}}
	SortNewestFirst(objs)
	if objs[0].Key != "c" || objs[2].Key != "a" {
		t.Errorf("order = %v", objs)
	}
}
