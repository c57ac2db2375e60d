package types

import "fmt"

// ViewObject is the closed set of things the client can look at. Only the
// four types in this package implement it; use VisitView to switch over
// them.
type ViewObject interface {
	viewObject()
}

func (Channel) viewObject() {}
func (Chat) viewObject()    {}
func (Message) viewObject() {}
func (User) viewObject()    {}

// ViewVisitor has one case per ViewObject variant.
type ViewVisitor[R any] struct {
	Channel func(Channel) R
	Chat    func(Chat) R
	Message func(Message) R
	User    func(User) R
}

// VisitView dispatches v to the matching case. Every case must be set.
func VisitView[R any](v ViewObject, visit ViewVisitor[R]) R {
	switch o := v.(type) {
	case Channel:
		return visit.Channel(o)
	case *Channel:
		return visit.Channel(*o)
	case Chat:
		return visit.Chat(o)
	case *Chat:
		return visit.Chat(*o)
	case Message:
		return visit.Message(o)
	case *Message:
		return visit.Message(*o)
	case User:
		return visit.User(o)
	case *User:
		return visit.User(*o)
	default:
		panic(fmt.Sprintf("unknown view object %T", v))
	}
}
