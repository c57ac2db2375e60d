package search

import (
	"context"
	"encoding/json"
	"strings"

	"dabubble/prefs"

	"github.com/pkg/errors"
)

// RecentSearchesKey is the preference key the recent list is stored under.
const RecentSearchesKey = "recentSearches"

const recentCap = 5

// PushRecent puts term at the front of list, drops an earlier entry with
// the same text and keeps at most five entries.
func PushRecent(list []string, term string) []string {
	out := make([]string, 0, recentCap)
	out = append(out, term)
	for _, t := range list {
		if len(out) == recentCap {
			break
		}
		if t != term {
			out = append(out, t)
		}
	}
	return out
}

// Recents persists each user's recent search terms.
type Recents struct {
	kv prefs.KV
}

func NewRecents(kv prefs.KV) *Recents {
	return &Recents{kv: kv}
}

func (r *Recents) List(ctx context.Context, userID string) ([]string, error) {
	raw, ok, err := r.kv.Get(ctx, userID, RecentSearchesKey)
	if err != nil || !ok {
		return []string{}, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrap(err, "decode recent searches")
	}
	return list, nil
}

// Add records term and returns the updated list. Blank terms are ignored.
func (r *Recents) Add(ctx context.Context, userID, term string) ([]string, error) {
	list, err := r.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return list, nil
	}
	list = PushRecent(list, term)
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, errors.Wrap(err, "encode recent searches")
	}
	if err := r.kv.Put(ctx, userID, RecentSearchesKey, raw); err != nil {
		return nil, err
	}
	return list, nil
}
