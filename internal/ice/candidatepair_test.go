package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairPriorityFormula(t *testing.T) {
	// RFC 8445 §5.1.2.1 worked example: G=100, D=200.
	got := pairPriority(100, 200)
	want := (uint64(100) << 32) | (2 * uint64(200))
	assert.Equal(t, want, got)
}

func TestPairPriorityTieBreakBit(t *testing.T) {
	a := pairPriority(200, 100) // G > D
	b := pairPriority(100, 200) // G < D
	assert.Equal(t, uint64(1), a&1)
	assert.Equal(t, uint64(0), b&1)
}

func TestNewPairUsesControllingRoleForG(t *testing.T) {
	local := &Candidate{Priority: 50}
	remote := &Candidate{Priority: 75}
	local.IDs = nil
	remote.IDs = nil

	controllingPair := NewPair(local, remote, true)
	controlledPair := NewPair(local, remote, false)

	assert.Equal(t, pairPriority(50, 75), controllingPair.Priority)
	assert.Equal(t, pairPriority(75, 50), controlledPair.Priority)
}
