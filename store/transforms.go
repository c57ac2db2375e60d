package store

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// A transform computes a field's new value from its current one inside the
// write transaction.
type transform interface {
	apply(current any) (any, error)
}

type arrayUnion []any

type arrayRemove []any

type increment float64

// ArrayUnion adds each value to an array field unless already present.
func ArrayUnion(values ...any) any { return arrayUnion(values) }

// ArrayRemove drops every occurrence of each value from an array field.
func ArrayRemove(values ...any) any { return arrayRemove(values) }

// Increment adds n to a numeric field, treating a missing field as zero.
func Increment(n int) any { return increment(n) }

func jsonKey(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func currentArray(current any) ([]any, error) {
	switch c := current.(type) {
	case nil:
		return nil, nil
	case []any:
		return c, nil
	default:
		return nil, errors.Errorf("field is %T, not an array", current)
	}
}

func (u arrayUnion) apply(current any) (any, error) {
	arr, err := currentArray(current)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(arr))
	out := make([]any, 0, len(arr)+len(u))
	for _, v := range arr {
		k, err := jsonKey(v)
		if err != nil {
			return nil, err
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	for _, v := range u {
		k, err := jsonKey(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

func (r arrayRemove) apply(current any) (any, error) {
	arr, err := currentArray(current)
	if err != nil {
		return nil, err
	}
	drop := make(map[string]struct{}, len(r))
	for _, v := range r {
		k, err := jsonKey(v)
		if err != nil {
			return nil, err
		}
		drop[k] = struct{}{}
	}
	out := make([]any, 0, len(arr))
	for _, v := range arr {
		k, err := jsonKey(v)
		if err != nil {
			return nil, err
		}
		if _, ok := drop[k]; !ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (n increment) apply(current any) (any, error) {
	switch c := current.(type) {
	case nil:
		return float64(n), nil
	case float64:
		return c + float64(n), nil
	default:
		return nil, errors.Errorf("field is %T, not a number", current)
	}
}

func mergeFields(doc map[string]any, fields map[string]any) error {
	for name, value := range fields {
		if t, ok := value.(transform); ok {
			next, err := t.apply(doc[name])
			if err != nil {
				return errors.Wrap(err, name)
			}
			doc[name] = next
			continue
		}
		doc[name] = value
	}
	return nil
}
