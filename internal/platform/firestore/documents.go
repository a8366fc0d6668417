package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

// Decode hydrates T from a snapshot.
func Decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var target T
	if err := snap.DataTo(&target); err != nil {
		return target, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return target, nil
}

// Collect drains a query and decodes every document with convert.
func Collect[T any, D any](ctx context.Context, op string, query firestore.Query, convert func(id string, doc D) T) ([]T, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if isIteratorDone(err) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		doc, err := Decode[D](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, convert(snap.Ref.ID, doc))
	}
}
