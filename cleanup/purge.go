package cleanup

import (
	"context"

	"dabubble/store"
	"dabubble/types"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

type docRef struct {
	path string
	id   string
}

// Plan lists every write that removes one user. It is built from reads only
// and applied in a single batch.
type Plan struct {
	UserID string

	deletes      []docRef
	deleted      map[docRef]struct{}
	answerAdjust map[docRef]int
	leave        []string
	chatStrips   map[string][]string
}

func newPlan(userID string) *Plan {
	return &Plan{
		UserID:       userID,
		deleted:      make(map[docRef]struct{}),
		answerAdjust: make(map[docRef]int),
		chatStrips:   make(map[string][]string),
	}
}

func (p *Plan) remove(path, id string) {
	ref := docRef{path: path, id: id}
	if _, ok := p.deleted[ref]; ok {
		return
	}
	p.deleted[ref] = struct{}{}
	p.deletes = append(p.deletes, ref)
}

// Deletes reports how many documents the plan removes.
func (p *Plan) Deletes() int {
	return len(p.deletes)
}

// PlanPurge enumerates what removing userID involves. Nothing is written.
func (s *Sweeper) PlanPurge(ctx context.Context, userID string) (*Plan, error) {
	p := newPlan(userID)

	channels, err := store.RunAs[types.Channel](ctx, s.st, store.Collection(types.ChannelsPath))
	if err != nil {
		return nil, errors.Wrap(err, "list channels")
	}
	for _, ch := range channels {
		if ch.CreatorID == userID {
			if err := s.planSubtree(ctx, p, types.ChannelsPath, ch.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err := s.planAuthored(ctx, p, ch.ID); err != nil {
			return nil, err
		}
		if ch.HasMember(userID) {
			p.leave = append(p.leave, ch.ID)
		}
	}

	chats, err := store.RunAs[types.Chat](ctx, s.st,
		store.Collection(types.ChatsPath).Where("memberIds", store.ArrayContains, userID))
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	for _, chat := range chats {
		if err := s.planSubtree(ctx, p, types.ChatsPath, chat.ID); err != nil {
			return nil, err
		}
		holders, err := store.RunAs[types.User](ctx, s.st,
			store.Collection(types.UsersPath).Where("chatIds", store.ArrayContains, chat.ID))
		if err != nil {
			return nil, errors.Wrapf(err, "list holders of chat %s", chat.ID)
		}
		for _, u := range holders {
			if u.ID != userID {
				p.chatStrips[u.ID] = append(p.chatStrips[u.ID], chat.ID)
			}
		}
	}

	p.remove(types.UsersPath, userID)
	return p, nil
}

// planSubtree removes a channel or chat with all its messages and answers.
func (s *Sweeper) planSubtree(ctx context.Context, p *Plan, collection, id string) error {
	docs, err := s.st.Descendants(ctx, collection, id)
	if err != nil {
		return err
	}
	for _, d := range docs {
		p.remove(d.Path, d.ID)
	}
	p.remove(collection, id)
	return nil
}

// planAuthored removes the user's messages in a channel owned by someone
// else. Answers under a removed message go with it; answers the user left
// under other messages lower that parent's answer count.
func (s *Sweeper) planAuthored(ctx context.Context, p *Plan, channelID string) error {
	docs, err := s.st.Descendants(ctx, types.ChannelsPath, channelID)
	if err != nil {
		return err
	}
	msgs, err := store.DecodeAll[types.Message](docs)
	if err != nil {
		return err
	}

	// Descendants orders by path, so top level messages come before the
	// answer collections below them.
	for i, m := range msgs {
		path := docs[i].Path
		parentPath, parentID, isAnswer := types.ParentOf(path)
		if !isAnswer {
			if m.CreatorID == p.UserID {
				p.remove(path, m.ID)
			}
			continue
		}
		parent := docRef{path: parentPath, id: parentID}
		if _, gone := p.deleted[parent]; gone {
			p.remove(path, m.ID)
			continue
		}
		if m.CreatorID == p.UserID {
			p.remove(path, m.ID)
			p.answerAdjust[parent]--
		}
	}
	return nil
}

// Purge removes userID and everything it owns in one transaction.
func (s *Sweeper) Purge(ctx context.Context, userID string) error {
	p, err := s.PlanPurge(ctx, userID)
	if err != nil {
		return errors.Wrapf(err, "plan purge of %s", userID)
	}

	b := s.st.Batch()
	for parent, n := range p.answerAdjust {
		b.Update(parent.path, parent.id, map[string]any{"answerCount": store.Increment(n)})
	}
	for _, channelID := range p.leave {
		b.Update(types.ChannelsPath, channelID, map[string]any{"memberIds": store.ArrayRemove(userID)})
	}
	for holder, chatIDs := range p.chatStrips {
		ids := make([]any, len(chatIDs))
		for i, id := range chatIDs {
			ids[i] = id
		}
		b.Update(types.UsersPath, holder, map[string]any{"chatIds": store.ArrayRemove(ids...)})
	}
	for _, ref := range p.deletes {
		b.Delete(ref.path, ref.id)
	}
	b.Exec(`DELETE FROM credentials WHERE user_id = ?`, userID)
	b.Exec(`DELETE FROM preferences WHERE scope = ?`, userID)

	if err := b.Commit(ctx); err != nil {
		return errors.Wrapf(err, "purge %s", userID)
	}
	if s.Prefs != nil {
		if err := s.Prefs.Delete(ctx, userID); err != nil {
			jww.WARN.Printf("guest sweep: preferences of %s: %v", userID, err)
		}
	}
	jww.INFO.Printf("guest sweep: purged %s (%d documents)", userID, p.Deletes())
	return nil
}
