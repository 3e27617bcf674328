package taskstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Iron-Ham/friendflow/internal/config"
)

func TestTransitionGraph(t *testing.T) {
	all := []BindingStatus{StatusUnrecognized, StatusPendingAdd, StatusApplied, StatusBound, StatusNotFound, StatusFailed}
	allowed := map[[2]BindingStatus]bool{
		{StatusPendingAdd, StatusApplied}:  true,
		{StatusPendingAdd, StatusNotFound}: true,
		{StatusPendingAdd, StatusFailed}:   true,
		{StatusApplied, StatusBound}:       true,
		{StatusApplied, StatusFailed}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]BindingStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s → %s", from, to)
		}
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, []BindingStatus{StatusApplied, StatusBound}, Path(StatusPendingAdd, StatusBound))
	assert.Equal(t, []BindingStatus{StatusFailed}, Path(StatusApplied, StatusFailed))
	assert.Nil(t, Path(StatusBound, StatusApplied))
	assert.Nil(t, Path(StatusNotFound, StatusBound))
	assert.Nil(t, Path(StatusFailed, StatusBound))
	assert.Nil(t, Path(StatusApplied, StatusApplied))
}

func TestLabels(t *testing.T) {
	labels := NewLabels(config.Default().TaskStore.Statuses)

	assert.Equal(t, "待添加", labels.Label(StatusPendingAdd))
	assert.Equal(t, StatusBound, labels.Parse("已绑定"))
	assert.Equal(t, StatusUnrecognized, labels.Parse("whatever"))
	assert.Equal(t, "Applied", StatusApplied.String())
}
