// Package curriculum holds the per-enrollment curriculum tree and its status cascade.
//
// A Tree is an arena: nodes live in a slice and refer to their parent and
// children by index, so a progress copy never shares nodes with the program
// template or with another enrollment.
package curriculum

import (
	"errors"
	"fmt"
)

// Status is the progression state of a curriculum item.
type Status string

const (
	StatusLocked     Status = "LOCKED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ItemType is the depth label of a curriculum item.
type ItemType string

const (
	TypeChapter  ItemType = "CHAPTER"
	TypeTopic    ItemType = "TOPIC"
	TypeSubTopic ItemType = "SUB_TOPIC"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case TypeChapter, TypeTopic, TypeSubTopic:
		return true
	}
	return false
}

// Resource is a learning link attached to an item.
type Resource struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// AssignmentTemplate is materialised into an assignment when the item becomes next in line.
type AssignmentTemplate struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Item is the nested representation of a node used on the wire and in storage.
type Item struct {
	ID          string               `json:"id" yaml:"id"`
	Title       string               `json:"title" yaml:"title"`
	Type        ItemType             `json:"type" yaml:"type"`
	Status      Status               `json:"status,omitempty" yaml:"status,omitempty"`
	Resources   []Resource           `json:"resources,omitempty" yaml:"resources,omitempty"`
	Assignments []AssignmentTemplate `json:"assignment_templates,omitempty" yaml:"assignment_templates,omitempty"`
	Children    []Item               `json:"children,omitempty" yaml:"children,omitempty"`
}

const noParent = -1

type node struct {
	id          string
	title       string
	itemType    ItemType
	status      Status
	resources   []Resource
	assignments []AssignmentTemplate
	parent      int
	children    []int
}

// Tree is an ordered forest of curriculum items.
type Tree struct {
	nodes []node
	roots []int
	index map[string]int
	order []int
}

var (
	ErrEmptyID     = errors.New("curriculum: item id is required")
	ErrDuplicateID = errors.New("curriculum: duplicate item id")
	ErrInvalidType = errors.New("curriculum: invalid item type")
	ErrInvalidStat = errors.New("curriculum: invalid item status")
)

// New builds a Tree from nested items. Missing statuses default to Locked.
func New(items []Item) (*Tree, error) {
	t := &Tree{index: make(map[string]int)}
	for _, item := range items {
		idx, err := t.add(item, noParent)
		if err != nil {
			return nil, err
		}
		t.roots = append(t.roots, idx)
	}
	t.reindexOrder()
	return t, nil
}

func (t *Tree) add(item Item, parent int) (int, error) {
	if item.ID == "" {
		return 0, ErrEmptyID
	}
	if _, exists := t.index[item.ID]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
	}
	if !item.Type.Valid() {
		return 0, fmt.Errorf("%w: %q on %s", ErrInvalidType, item.Type, item.ID)
	}
	status := item.Status
	if status == "" {
		status = StatusLocked
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: %q on %s", ErrInvalidStat, item.Status, item.ID)
	}

	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{
		id:          item.ID,
		title:       item.Title,
		itemType:    item.Type,
		status:      status,
		resources:   append([]Resource(nil), item.Resources...),
		assignments: append([]AssignmentTemplate(nil), item.Assignments...),
		parent:      parent,
	})
	t.index[item.ID] = idx

	for _, child := range item.Children {
		childIdx, err := t.add(child, idx)
		if err != nil {
			return 0, err
		}
		t.nodes[idx].children = append(t.nodes[idx].children, childIdx)
	}
	return idx, nil
}

// reindexOrder caches the depth-first pre-order used by Flatten, NextItem and Percent.
func (t *Tree) reindexOrder() {
	t.order = t.order[:0]
	var walk func(int)
	walk = func(idx int) {
		t.order = append(t.order, idx)
		for _, child := range t.nodes[idx].children {
			walk(child)
		}
	}
	for _, root := range t.roots {
		walk(root)
	}
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Status returns the status of id.
func (t *Tree) Status(id string) (Status, bool) {
	if t == nil {
		return "", false
	}
	idx, ok := t.index[id]
	if !ok {
		return "", false
	}
	return t.nodes[idx].status, true
}

// SetStatus updates id and cascades the change. Completing a node completes every
// descendant; every ancestor is then re-derived from its children. It returns false
// when id is unknown, leaving the tree untouched.
func (t *Tree) SetStatus(id string, status Status) bool {
	if t == nil {
		return false
	}
	idx, ok := t.index[id]
	if !ok {
		return false
	}

	t.nodes[idx].status = status
	if status == StatusCompleted {
		t.completeDescendants(idx)
	}
	for p := t.nodes[idx].parent; p != noParent; p = t.nodes[p].parent {
		t.nodes[p].status = t.derive(p)
	}
	return true
}

func (t *Tree) completeDescendants(idx int) {
	for _, child := range t.nodes[idx].children {
		t.nodes[child].status = StatusCompleted
		t.completeDescendants(child)
	}
}

func (t *Tree) derive(idx int) Status {
	children := t.nodes[idx].children
	if len(children) == 0 {
		return t.nodes[idx].status
	}
	allCompleted := true
	anyStarted := false
	for _, child := range children {
		switch t.nodes[child].status {
		case StatusCompleted:
			anyStarted = true
		case StatusInProgress:
			anyStarted = true
			allCompleted = false
		default:
			allCompleted = false
		}
	}
	switch {
	case allCompleted:
		return StatusCompleted
	case anyStarted:
		return StatusInProgress
	default:
		return StatusLocked
	}
}

// Flatten returns item ids in depth-first pre-order.
func (t *Tree) Flatten() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, 0, len(t.order))
	for _, idx := range t.order {
		ids = append(ids, t.nodes[idx].id)
	}
	return ids
}

// Percent is the share of completed nodes, from 0 to 100.
func (t *Tree) Percent() float64 {
	total := t.Len()
	if total == 0 {
		return 0
	}
	completed := 0
	for _, n := range t.nodes {
		if n.status == StatusCompleted {
			completed++
		}
	}
	return float64(completed) * 100 / float64(total)
}

// AllCompleted reports whether every node is completed. An empty tree is never complete.
func (t *Tree) AllCompleted() bool {
	if t.Len() == 0 {
		return false
	}
	for _, n := range t.nodes {
		if n.status != StatusCompleted {
			return false
		}
	}
	return true
}

// Find returns the nested item rooted at id.
func (t *Tree) Find(id string) (Item, bool) {
	if t == nil {
		return Item{}, false
	}
	idx, ok := t.index[id]
	if !ok {
		return Item{}, false
	}
	return t.item(idx), true
}

// NextItem returns the item following id in depth-first order.
func (t *Tree) NextItem(id string) (Item, bool) {
	if t == nil {
		return Item{}, false
	}
	idx, ok := t.index[id]
	if !ok {
		return Item{}, false
	}
	for pos, candidate := range t.order {
		if candidate == idx {
			if pos+1 < len(t.order) {
				return t.item(t.order[pos+1]), true
			}
			break
		}
	}
	return Item{}, false
}

// Items returns the nested representation of the whole tree.
func (t *Tree) Items() []Item {
	if t == nil {
		return []Item{}
	}
	items := make([]Item, 0, len(t.roots))
	for _, root := range t.roots {
		items = append(items, t.item(root))
	}
	return items
}

func (t *Tree) item(idx int) Item {
	n := t.nodes[idx]
	item := Item{
		ID:          n.id,
		Title:       n.title,
		Type:        n.itemType,
		Status:      n.status,
		Resources:   append([]Resource(nil), n.resources...),
		Assignments: append([]AssignmentTemplate(nil), n.assignments...),
	}
	for _, child := range n.children {
		item.Children = append(item.Children, t.item(child))
	}
	return item
}

// Clone returns an independent copy preserving statuses.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	clone := &Tree{
		nodes: make([]node, len(t.nodes)),
		roots: append([]int(nil), t.roots...),
		index: make(map[string]int, len(t.index)),
		order: append([]int(nil), t.order...),
	}
	for i, n := range t.nodes {
		n.resources = append([]Resource(nil), n.resources...)
		n.assignments = append([]AssignmentTemplate(nil), n.assignments...)
		n.children = append([]int(nil), n.children...)
		clone.nodes[i] = n
	}
	for id, idx := range t.index {
		clone.index[id] = idx
	}
	return clone
}

// Instantiate copies the tree for a new enrollment with every item Locked.
func (t *Tree) Instantiate() *Tree {
	clone := t.Clone()
	if clone == nil {
		return &Tree{index: map[string]int{}}
	}
	for i := range clone.nodes {
		clone.nodes[i].status = StatusLocked
	}
	return clone
}
