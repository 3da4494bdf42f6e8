package rtcring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRingStoreAndLookup(t *testing.T) {
	r := New(3 * time.Second)
	base := time.Now()

	r.Store(100, []byte("packet-100"), base)

	got, ok := r.Lookup(100)
	assert.True(t, ok)
	assert.Equal(t, []byte("packet-100"), got)

	_, ok = r.Lookup(101)
	assert.False(t, ok)
}

func TestRingEvictsPastRetainWindow(t *testing.T) {
	r := New(3 * time.Second)
	base := time.Now()

	r.Store(1, []byte("old"), base)
	r.Store(2, []byte("new"), base.Add(4*time.Second))

	_, ok := r.Lookup(1)
	assert.False(t, ok, "entry older than the retain window should be evicted")

	got, ok := r.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}

func TestRingDefaultsRetainDuration(t *testing.T) {
	r := New(0)
	assert.Equal(t, DefaultRetain, r.retainDuration)
}
