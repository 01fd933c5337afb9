package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchAddAndDrain(t *testing.T) {
	m := NewManager()
	node := "node-123"

	m.AddPending(node, Assignment{WorkloadID: "w1", Image: "nginx", Generation: 1})
	m.AddPending(node, Assignment{WorkloadID: "w2", Image: "redis", Generation: 1})
	assert.Equal(t, 2, m.Len())

	drained := m.DrainPending(node)
	require.Len(t, drained, 2)
	assert.Equal(t, "w1", drained[0].WorkloadID)
	assert.Equal(t, "w2", drained[1].WorkloadID)

	// second drain is empty
	assert.Empty(t, m.DrainPending(node))
	assert.Equal(t, 0, m.Len())
}

func TestDispatchReplacesSameWorkload(t *testing.T) {
	m := NewManager()
	m.AddPending("n", Assignment{WorkloadID: "w1", Generation: 1})
	m.AddPending("n", Assignment{WorkloadID: "w1", Generation: 2})

	drained := m.DrainPending("n")
	require.Len(t, drained, 1)
	assert.Equal(t, int64(2), drained[0].Generation)
}

func TestDispatchForget(t *testing.T) {
	m := NewManager()
	m.AddPending("a", Assignment{WorkloadID: "w1"})
	m.AddPending("b", Assignment{WorkloadID: "w1"})
	m.Forget("a")

	assert.Empty(t, m.DrainPending("a"))
	assert.Len(t, m.DrainPending("b"), 1)
}

func TestDispatchForgetWorkload(t *testing.T) {
	m := NewManager()
	m.AddPending("a", Assignment{WorkloadID: "w1"})
	m.AddPending("a", Assignment{WorkloadID: "w2"})
	m.AddPending("b", Assignment{WorkloadID: "w1"})

	assert.Equal(t, 2, m.ForgetWorkload("w1"))
	assert.Equal(t, 1, m.Len())
	drained := m.DrainPending("a")
	require.Len(t, drained, 1)
	assert.Equal(t, "w2", drained[0].WorkloadID)
	assert.Empty(t, m.DrainPending("b"))
	assert.Zero(t, m.ForgetWorkload("missing"))
}
