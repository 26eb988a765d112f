package scroll

import "sync"

// BottomThreshold is how close to the end, in pixels, still counts as being
// at the bottom.
const BottomThreshold = 100

type Mutation string

const (
	MutationInitialLoad Mutation = "initial-load"
	MutationAppend      Mutation = "append"
	MutationReplace     Mutation = "replace"
	MutationPrepend     Mutation = "prepend"
)

type Behavior string

const (
	BehaviorNone    Behavior = "none"
	BehaviorInstant Behavior = "instant"
	BehaviorSmooth  Behavior = "smooth"
)

// Action tells the view what to do after the message buffer changed.
type Action struct {
	Scroll           Behavior `json:"scroll"`
	ShowNewIndicator bool     `json:"show_new_indicator"`
}

// Controller decides per mutation whether to follow new messages or keep
// the reader's position.
type Controller struct {
	mu        sync.Mutex
	atBottom  bool
	indicator bool
	last      Action
}

func NewController() *Controller {
	return &Controller{
		atBottom: true,
		last:     Action{Scroll: BehaviorNone},
	}
}

// UpdatePosition records the viewport geometry reported by the view.
func (c *Controller) UpdatePosition(scrollTop, scrollHeight, clientHeight float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.atBottom = scrollHeight-scrollTop-clientHeight < BottomThreshold
	if c.atBottom {
		c.indicator = false
	}
	return c.atBottom
}

func (c *Controller) OnMutation(m Mutation) Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	var action Action
	switch m {
	case MutationInitialLoad:
		c.atBottom = true
		c.indicator = false
		action = Action{Scroll: BehaviorInstant}
	case MutationPrepend:
		action = Action{Scroll: BehaviorNone, ShowNewIndicator: c.indicator}
	default:
		if c.atBottom {
			c.indicator = false
			action = Action{Scroll: BehaviorSmooth}
		} else {
			if m == MutationAppend {
				c.indicator = true
			}
			action = Action{Scroll: BehaviorNone, ShowNewIndicator: c.indicator}
		}
	}

	c.last = action
	return action
}

// Last returns the most recent action, for views that poll.
func (c *Controller) Last() Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Action{Scroll: c.last.Scroll, ShowNewIndicator: c.indicator}
}

func (c *Controller) AtBottom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atBottom
}

// Reset prepares for a different conversation.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.atBottom = true
	c.indicator = false
	c.last = Action{Scroll: BehaviorNone}
}
