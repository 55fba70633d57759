package adminflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStore_StartAndGet(t *testing.T) {
	s := NewStore()
	s.Start(1, StepAddDropCity)

	st, ok := s.Get(1)
	assert.True(t, ok)
	assert.Equal(t, StepAddDropCity, st.Step)
}

func TestStore_GetUnknownAdmin(t *testing.T) {
	s := NewStore()
	_, ok := s.Get(42)
	assert.False(t, ok)
}

func TestStore_AdvanceKeepsDraft(t *testing.T) {
	s := NewStore()
	st := s.Start(1, StepAddDropCity)
	st.AddDrop.City = "Berlin"

	s.Advance(1, StepAddDropDistrict)

	got, ok := s.Get(1)
	assert.True(t, ok)
	assert.Equal(t, StepAddDropDistrict, got.Step)
	assert.Equal(t, "Berlin", got.AddDrop.City)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Start(1, StepAddDropCity)
	s.Clear(1)

	_, ok := s.Get(1)
	assert.False(t, ok)
}

func TestStore_PartitionedByUser(t *testing.T) {
	s := NewStore()
	s.Start(1, StepAddDropCity)
	s.Start(2, StepDiscountCode)

	st1, _ := s.Get(1)
	st2, _ := s.Get(2)
	assert.Equal(t, StepAddDropCity, st1.Step)
	assert.Equal(t, StepDiscountCode, st2.Step)
}

func TestStore_TimeoutExpiresFlow(t *testing.T) {
	s := NewStore()
	s.Start(1, StepAddDropCity)

	s.mu.Lock()
	s.states[1].StartedAt = time.Now().Add(-flowTimeout - time.Minute)
	s.mu.Unlock()

	_, ok := s.Get(1)
	assert.False(t, ok)
	assert.False(t, s.InFlow(1))
}
