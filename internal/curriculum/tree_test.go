package curriculum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) *Tree {
	t.Helper()
	tree, err := New([]Item{
		{ID: "ch1", Title: "Algebra", Type: TypeChapter, Children: []Item{
			{ID: "t1", Title: "Linear equations", Type: TypeTopic, Children: []Item{
				{ID: "s1", Title: "One variable", Type: TypeSubTopic},
				{ID: "s2", Title: "Two variables", Type: TypeSubTopic},
			}},
			{ID: "t2", Title: "Quadratics", Type: TypeTopic, Assignments: []AssignmentTemplate{
				{Title: "Factorisation drill"},
				{Title: "Completing the square"},
			}},
		}},
		{ID: "ch2", Title: "Geometry", Type: TypeChapter, Children: []Item{
			{ID: "t3", Title: "Triangles", Type: TypeTopic},
		}},
	})
	require.NoError(t, err)
	return tree
}

func statusOf(t *testing.T, tree *Tree, id string) Status {
	t.Helper()
	s, ok := tree.Status(id)
	require.True(t, ok, id)
	return s
}

func TestSetStatusDerivesAncestors(t *testing.T) {
	tree := fixture(t)

	require.True(t, tree.SetStatus("s1", StatusCompleted))
	assert.Equal(t, StatusInProgress, statusOf(t, tree, "t1"))
	assert.Equal(t, StatusInProgress, statusOf(t, tree, "ch1"))
	assert.Equal(t, StatusLocked, statusOf(t, tree, "ch2"))

	require.True(t, tree.SetStatus("s2", StatusCompleted))
	assert.Equal(t, StatusCompleted, statusOf(t, tree, "t1"))
	assert.Equal(t, StatusInProgress, statusOf(t, tree, "ch1"), "t2 is still locked")
}

func TestSetStatusCompletedForcesDescendants(t *testing.T) {
	tree := fixture(t)

	require.True(t, tree.SetStatus("ch1", StatusCompleted))
	for _, id := range []string{"ch1", "t1", "s1", "s2", "t2"} {
		assert.Equal(t, StatusCompleted, statusOf(t, tree, id), id)
	}
	assert.Equal(t, StatusLocked, statusOf(t, tree, "t3"))
	assert.InDelta(t, 5.0/7.0*100, tree.Percent(), 0.0001)
	assert.False(t, tree.AllCompleted())

	require.True(t, tree.SetStatus("t3", StatusCompleted))
	assert.Equal(t, StatusCompleted, statusOf(t, tree, "ch2"))
	assert.True(t, tree.AllCompleted())
	assert.Equal(t, 100.0, tree.Percent())
}

func TestSetStatusInProgressAndBackToLocked(t *testing.T) {
	tree := fixture(t)

	require.True(t, tree.SetStatus("t3", StatusInProgress))
	assert.Equal(t, StatusInProgress, statusOf(t, tree, "ch2"))

	require.True(t, tree.SetStatus("t3", StatusLocked))
	assert.Equal(t, StatusLocked, statusOf(t, tree, "ch2"))
}

func TestSetStatusUnknownIsNoop(t *testing.T) {
	tree := fixture(t)
	before := tree.Items()

	assert.False(t, tree.SetStatus("missing", StatusCompleted))
	assert.Equal(t, before, tree.Items())
	assert.Equal(t, 0.0, tree.Percent())
}

func TestFlattenAndNextItem(t *testing.T) {
	tree := fixture(t)

	assert.Equal(t, []string{"ch1", "t1", "s1", "s2", "t2", "ch2", "t3"}, tree.Flatten())

	next, ok := tree.NextItem("s2")
	require.True(t, ok)
	assert.Equal(t, "t2", next.ID)
	assert.Len(t, next.Assignments, 2)

	next, ok = tree.NextItem("t2")
	require.True(t, ok)
	assert.Equal(t, "ch2", next.ID)

	_, ok = tree.NextItem("t3")
	assert.False(t, ok)
	_, ok = tree.NextItem("missing")
	assert.False(t, ok)
}

func TestInstantiateIsIndependentAndLocked(t *testing.T) {
	template := fixture(t)
	require.True(t, template.SetStatus("ch1", StatusCompleted))

	copyA := template.Instantiate()
	copyB := template.Instantiate()
	for _, id := range copyA.Flatten() {
		assert.Equal(t, StatusLocked, statusOf(t, copyA, id), id)
	}

	require.True(t, copyA.SetStatus("t3", StatusCompleted))
	assert.Equal(t, StatusLocked, statusOf(t, copyB, "t3"))
	assert.Equal(t, StatusLocked, statusOf(t, template, "t3"))
	assert.Equal(t, StatusCompleted, statusOf(t, template, "s1"))
}

func TestAllCompletedEmptyTree(t *testing.T) {
	tree, err := New(nil)
	require.NoError(t, err)
	assert.False(t, tree.AllCompleted())
	assert.Equal(t, 0.0, tree.Percent())
}

func TestNewRejectsInvalidItems(t *testing.T) {
	_, err := New([]Item{{ID: "a", Type: TypeChapter}, {ID: "a", Type: TypeChapter}})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = New([]Item{{ID: "", Type: TypeChapter}})
	assert.ErrorIs(t, err, ErrEmptyID)

	_, err = New([]Item{{ID: "a", Type: "UNIT"}})
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestScanJSONB(t *testing.T) {
	var tree Tree
	raw := []byte(`[{"id":"c","title":"C","type":"CHAPTER","status":"IN_PROGRESS","children":[{"id":"t","title":"T","type":"TOPIC","status":"COMPLETED"}]}]`)
	require.NoError(t, tree.Scan(raw))

	assert.Equal(t, 2, tree.Len())
	s, _ := tree.Status("t")
	assert.Equal(t, StatusCompleted, s)

	value, err := tree.Value()
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(value.([]byte)))
}
