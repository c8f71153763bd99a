package realtime

import (
	"context"
	"sort"

	"crm-backend/internal/cache"
)

// Invalidate marks keys stale on every event so mounted queries refetch.
// The refetches run in the background and never delay the next event.
func Invalidate(qc *cache.QueryClient, keys ...cache.Key) Binding {
	return BindingFunc(func(ctx context.Context, ev ChangeEvent) error {
		qc.InvalidateInBackground(ctx, keys...)
		return nil
	})
}

// InvalidateFor invalidates the keys derived from each event.
func InvalidateFor(qc *cache.QueryClient, keys func(ev ChangeEvent) []cache.Key) Binding {
	return BindingFunc(func(ctx context.Context, ev ChangeEvent) error {
		ks := keys(ev)
		if len(ks) > 0 {
			qc.InvalidateInBackground(ctx, ks...)
		}
		return nil
	})
}

// ListMerge describes how row events fold into a cached []T.
type ListMerge[T any] struct {
	// ID identifies a row. Required.
	ID func(T) string
	// Less keeps the list ordered after an insert. Nil appends.
	Less func(a, b T) bool
	// Accept decides whether an update replaces the cached row. Nil accepts all.
	Accept func(old, new T) bool
	// KeyOf picks the list a row belongs to. Nil uses the binding's key.
	KeyOf func(T) cache.Key
}

// MergeList writes row events straight into a cached list: inserts append
// (a row already present is left alone), updates replace, deletes remove.
// Lists that are not cached are not created.
func MergeList[T any](qc *cache.QueryClient, key cache.Key, m ListMerge[T]) Binding {
	return BindingFunc(func(ctx context.Context, ev ChangeEvent) error {
		var row T
		if err := ev.Decode(&row); err != nil {
			return err
		}
		target := key
		if m.KeyOf != nil {
			target = m.KeyOf(row)
		}
		qc.Store().Update(target, func(old interface{}, ok bool) (interface{}, bool) {
			if !ok {
				return nil, false
			}
			list, ok := old.([]T)
			if !ok {
				return nil, false
			}
			return m.apply(list, ev.Type, row)
		})
		return nil
	})
}

func (m ListMerge[T]) apply(list []T, typ EventType, row T) ([]T, bool) {
	id := m.ID(row)
	idx := -1
	for i, item := range list {
		if m.ID(item) == id {
			idx = i
			break
		}
	}

	switch typ {
	case Insert:
		if idx >= 0 {
			return nil, false
		}
		out := make([]T, 0, len(list)+1)
		out = append(out, list...)
		out = append(out, row)
		if m.Less != nil {
			sort.SliceStable(out, func(i, j int) bool { return m.Less(out[i], out[j]) })
		}
		return out, true
	case Update:
		if idx < 0 {
			return nil, false
		}
		if m.Accept != nil && !m.Accept(list[idx], row) {
			return nil, false
		}
		out := append([]T(nil), list...)
		out[idx] = row
		return out, true
	case Delete:
		if idx < 0 {
			return nil, false
		}
		out := make([]T, 0, len(list)-1)
		out = append(out, list[:idx]...)
		out = append(out, list[idx+1:]...)
		return out, true
	}
	return nil, false
}
