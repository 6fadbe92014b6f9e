// Package optimistic applies interaction toggles locally before the remote
// call and restores the captured state when the call fails.
package optimistic

import "fmt"

// Kind selects the toggle an Action performs.
type Kind string

const (
	Like    Kind = "like"
	Collect Kind = "collect"
	Follow  Kind = "follow"
)

// TargetType is the kind of object an action applies to.
type TargetType string

const (
	TargetMessage TargetType = "message"
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
	TargetUser    TargetType = "user"
)

type Target struct {
	Type TargetType
	ID   string
}

func (t Target) String() string { return string(t.Type) + ":" + t.ID }

// Engagement is the toggle state of one target.
type Engagement struct {
	Liked         bool
	LikeCount     int
	Collected     bool
	Following     bool
	FollowerCount int
}

// Action is one toggle request.
type Action struct {
	Kind   Kind
	Target Target
}

// ParseKind converts a wire name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Like, Collect, Follow:
		return k, nil
	}
	return "", fmt.Errorf("unknown interaction kind %q", s)
}

// ParseTargetType converts a wire name into a TargetType.
func ParseTargetType(s string) (TargetType, error) {
	switch t := TargetType(s); t {
	case TargetMessage, TargetPost, TargetComment, TargetUser:
		return t, nil
	}
	return "", fmt.Errorf("unknown target type %q", s)
}

// apply returns the state after the toggle and whether the toggle turns the
// flag on.
func (a Action) apply(e Engagement) (Engagement, bool) {
	switch a.Kind {
	case Like:
		e.Liked = !e.Liked
		if e.Liked {
			e.LikeCount++
		} else if e.LikeCount > 0 {
			e.LikeCount--
		}
		return e, e.Liked
	case Collect:
		e.Collected = !e.Collected
		return e, e.Collected
	case Follow:
		e.Following = !e.Following
		if e.Following {
			e.FollowerCount++
		} else if e.FollowerCount > 0 {
			e.FollowerCount--
		}
		return e, e.Following
	}
	return e, false
}

func (a Action) messages(on bool) (success, failure string) {
	switch a.Kind {
	case Like:
		if on {
			return "Liked", "Could not like, try again"
		}
		return "Like removed", "Could not remove like, try again"
	case Collect:
		if on {
			return "Added to collection", "Could not collect, try again"
		}
		return "Removed from collection", "Could not remove from collection, try again"
	case Follow:
		if on {
			return "Following", "Could not follow, try again"
		}
		return "Unfollowed", "Could not unfollow, try again"
	}
	return "", "Action failed"
}
