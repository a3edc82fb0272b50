package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusCreating, StatusInService, true},
		{StatusCreating, StatusStopped, false},
		{StatusInService, StatusUpdating, true},
		{StatusInService, StatusStopping, true},
		{StatusInService, StatusDeleting, true},
		{StatusInService, StatusStarting, false},
		{StatusUpdating, StatusInService, true},
		{StatusUpdating, StatusDeleting, false},
		{StatusStopping, StatusStopped, true},
		{StatusStopped, StatusStarting, true},
		{StatusStopped, StatusDeleting, true},
		{StatusStopped, StatusUpdating, false},
		{StatusStarting, StatusInService, true},
		{StatusDeleting, StatusInService, false},
		{StatusFailed, StatusDeleting, true},
		{StatusFailed, StatusInService, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestAnyStatusCanFail(t *testing.T) {
	all := []Status{
		StatusCreating, StatusInService, StatusStarting, StatusStopping,
		StatusStopped, StatusUpdating, StatusDeleting, StatusFailed,
	}
	for _, from := range all {
		assert.True(t, from.CanTransition(StatusFailed), "from %s", from)
	}
}

func TestCheckTransition(t *testing.T) {
	err := StatusCreating.CheckTransition("llama-7b", StatusStopped)
	require.Error(t, err)

	var transitionErr *InvalidStateTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "llama-7b", transitionErr.ModelID)
	assert.Equal(t, StatusCreating, transitionErr.From)
	assert.Equal(t, StatusStopped, transitionErr.To)

	assert.NoError(t, StatusInService.CheckTransition("llama-7b", StatusUpdating))
}
