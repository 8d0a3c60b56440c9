// Package reorder computes the order-field rewrites behind the section and
// lecture move operations. The functions are pure: callers pass the visible
// sibling collection and persist the returned writes under their own lock or
// transaction so list readers never observe half a swap.
package reorder

import (
	"errors"
	"fmt"
	"sort"
)

// Direction selects which neighbour a move targets.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// ParseDirection maps the route suffix ("up" or "down") to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	default:
		return Up, fmt.Errorf("unknown move direction %q", s)
	}
}

// ErrBoundary is returned when an item is already at the top or bottom of its
// sibling list and cannot move further in the requested direction.
var ErrBoundary = errors.New("item is already at the boundary of its list")

// Item is the projection of any entity that participates in an ordered
// sibling collection.
type Item struct {
	ID     string
	Parent string
	Order  int
}

// SortSiblings orders a sibling collection ascending by order field, with the
// identifier as a tie breaker so equal orders produce a stable sequence.
func SortSiblings(items []Item) []Item {
	sorted := append([]Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// MoveWithinParent swaps the order values of the identified item and its
// immediate neighbour in the move direction. The siblings slice must contain
// the visible items of one parent sorted ascending by order. It returns the
// two items carrying their new order values.
func MoveWithinParent(id string, dir Direction, siblings []Item) (moved, neighbour Item, err error) {
	idx := -1
	for i, item := range siblings {
		if item.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Item{}, Item{}, fmt.Errorf("item %s is not part of the sibling list", id)
	}
	other := idx - 1
	if dir == Down {
		other = idx + 1
	}
	if other < 0 || other >= len(siblings) {
		return Item{}, Item{}, ErrBoundary
	}
	moved = siblings[idx]
	neighbour = siblings[other]
	moved.Order, neighbour.Order = neighbour.Order, moved.Order
	return moved, neighbour, nil
}

// MoveAcrossParents reassigns item to targetParent while keeping its order
// value, then restores local monotonicity with a single insertion pass over
// the target's sibling list: the scan starts at the first pair for a Down
// move and at the last pair for an Up move, swapping order values while the
// local ordering is violated and stopping at the first pair already in the
// correct relative order. This is deliberately not a full re-sort; orders the
// pass never reaches keep whatever values they had.
//
// The siblings slice must contain the visible items of targetParent sorted
// ascending by order, without the moved item. The returned slice holds every
// item whose parent or order changed, the moved item first.
func MoveAcrossParents(item Item, dir Direction, targetParent string, siblings []Item) []Item {
	item.Parent = targetParent

	list := make([]Item, 0, len(siblings)+1)
	if dir == Down {
		list = append(list, item)
		list = append(list, siblings...)
	} else {
		list = append(list, siblings...)
		list = append(list, item)
	}

	original := make(map[string]Item, len(list))
	for _, it := range list {
		original[it.ID] = it
	}

	if dir == Down {
		for i := 0; i+1 < len(list); i++ {
			if list[i].Order <= list[i+1].Order {
				break
			}
			list[i].Order, list[i+1].Order = list[i+1].Order, list[i].Order
		}
	} else {
		for i := len(list) - 1; i > 0; i-- {
			if list[i-1].Order <= list[i].Order {
				break
			}
			list[i-1].Order, list[i].Order = list[i].Order, list[i-1].Order
		}
	}

	changed := make([]Item, 0, len(list))
	for _, it := range list {
		if it.ID == item.ID {
			changed = append(changed, it)
			break
		}
	}
	for _, it := range list {
		if it.ID == item.ID {
			continue
		}
		if before := original[it.ID]; before.Order != it.Order {
			changed = append(changed, it)
		}
	}
	return changed
}
