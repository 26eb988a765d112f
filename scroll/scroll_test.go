package scroll

import "testing"

func TestController_UpdatePositionThreshold(t *testing.T) {
	testCases := []struct {
		name      string
		scrollTop float64
		expected  bool
	}{
		{name: "at end", scrollTop: 1500, expected: true},
		{name: "99px away", scrollTop: 1401, expected: true},
		{name: "100px away", scrollTop: 1400, expected: false},
		{name: "far up", scrollTop: 200, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController()
			if got := c.UpdatePosition(tc.scrollTop, 2000, 500); got != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestController_ReadingHistoryScenario(t *testing.T) {
	c := NewController()

	if a := c.OnMutation(MutationInitialLoad); a.Scroll != BehaviorInstant {
		t.Errorf("Expected instant scroll on initial load, got %+v", a)
	}

	c.UpdatePosition(0, 2000, 500)

	a := c.OnMutation(MutationPrepend)
	if a.Scroll != BehaviorNone || a.ShowNewIndicator {
		t.Errorf("Expected older history to leave position alone, got %+v", a)
	}

	a = c.OnMutation(MutationAppend)
	if a.Scroll != BehaviorNone || !a.ShowNewIndicator {
		t.Errorf("Expected indicator without scroll while reading, got %+v", a)
	}

	if !c.Last().ShowNewIndicator {
		t.Error("Expected indicator to persist")
	}

	c.UpdatePosition(1500, 2000, 500)
	if c.Last().ShowNewIndicator {
		t.Error("Expected indicator cleared when reaching bottom")
	}

	a = c.OnMutation(MutationAppend)
	if a.Scroll != BehaviorSmooth || a.ShowNewIndicator {
		t.Errorf("Expected smooth follow at bottom, got %+v", a)
	}
}

func TestController_ReplaceWhileReadingDoesNotShowIndicator(t *testing.T) {
	c := NewController()
	c.OnMutation(MutationInitialLoad)
	c.UpdatePosition(0, 2000, 500)

	a := c.OnMutation(MutationReplace)
	if a.Scroll != BehaviorNone || a.ShowNewIndicator {
		t.Errorf("Expected replace to keep position silently, got %+v", a)
	}
}

func TestController_InitialLoadOverridesPosition(t *testing.T) {
	c := NewController()
	c.UpdatePosition(0, 2000, 500)

	if a := c.OnMutation(MutationInitialLoad); a.Scroll != BehaviorInstant {
		t.Errorf("Expected forced scroll, got %+v", a)
	}
	if !c.AtBottom() {
		t.Error("Expected to be at bottom after initial load")
	}
}
