package model

// Collection is an insertion-ordered set of events keyed by id.
// It is not safe for concurrent use; the engine guards it.
type Collection struct {
	events []Event
	index  map[string]int
}

// NewCollection builds a collection from events. Later duplicates of an id
// replace the earlier record in place.
func NewCollection(events []Event) *Collection {
	c := &Collection{
		events: make([]Event, 0, len(events)),
		index:  make(map[string]int, len(events)),
	}
	for _, ev := range events {
		if i, ok := c.index[ev.ID]; ok {
			c.events[i] = ev
			continue
		}
		c.index[ev.ID] = len(c.events)
		c.events = append(c.events, ev)
	}
	return c
}

func (c *Collection) Len() int {
	return len(c.events)
}

func (c *Collection) Get(id string) (Event, bool) {
	i, ok := c.index[id]
	if !ok {
		return Event{}, false
	}
	return c.events[i], true
}

func (c *Collection) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Append adds ev at the end. It returns false if the id is already present.
func (c *Collection) Append(ev Event) bool {
	if c.Has(ev.ID) {
		return false
	}
	c.index[ev.ID] = len(c.events)
	c.events = append(c.events, ev)
	return true
}

// Replace overwrites the record with ev.ID in place. Unknown ids are
// dropped and reported with false.
func (c *Collection) Replace(ev Event) bool {
	i, ok := c.index[ev.ID]
	if !ok {
		return false
	}
	c.events[i] = ev
	return true
}

// Remove filters out id, preserving the order of the rest.
func (c *Collection) Remove(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	copy(c.events[i:], c.events[i+1:])
	c.events = c.events[:len(c.events)-1]
	delete(c.index, id)
	for j := i; j < len(c.events); j++ {
		c.index[c.events[j].ID] = j
	}
	return true
}

// Events returns a copy in insertion order.
func (c *Collection) Events() []Event {
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
