package mavlink

import (
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
	"i4.energy/across/satbridge/forward"
)

// Classifier tags frames as essential or best-effort from a fixed
// allow-list of message ids. It holds no other state, so the result for
// a frame never changes while the allow-list stays the same.
type Classifier struct {
	essential map[MessageID]struct{}
}

// NewClassifier builds a classifier for allow. An empty allow-list
// selects DefaultEssential.
func NewClassifier(allow []MessageID) *Classifier {
	if len(allow) == 0 {
		allow = DefaultEssential
	}
	c := &Classifier{essential: make(map[MessageID]struct{}, len(allow))}
	for _, id := range allow {
		c.essential[id] = struct{}{}
	}
	return c
}

func (c *Classifier) IsEssential(id MessageID) bool {
	_, ok := c.essential[id]
	return ok
}

func (c *Classifier) Classify(f Frame) forward.Priority {
	if c.IsEssential(f.MsgID) {
		return forward.Essential
	}
	return forward.BestEffort
}

// ClassifyBytes parses raw and classifies it. Bytes that are not a
// complete frame are best-effort and the parse error is returned with
// them.
func (c *Classifier) ClassifyBytes(raw []byte) (forward.Priority, error) {
	f, err := Parse(raw)
	if err != nil {
		return forward.BestEffort, err
	}
	return c.Classify(f), nil
}

// Allowlist returns the essential message ids in ascending order.
func (c *Classifier) Allowlist() []MessageID {
	out := make([]MessageID, 0, len(c.essential))
	for id := range c.essential {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ParseAllowlist converts names or numeric ids to message ids. Every bad
// entry is reported, not only the first one.
func ParseAllowlist(entries []string) ([]MessageID, error) {
	var (
		out    []MessageID
		result *multierror.Error
	)
	for i, e := range entries {
		id, err := ParseMessageID(e)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("essential_allowlist[%d]: %w", i, err))
			continue
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}
