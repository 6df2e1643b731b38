package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLabelSpace(t *testing.T) {
	space, err := NewLabelSpace("Department", []string{" Sales ", "Human　Resources", "IT"})
	require.NoError(t, err)
	assert.Equal(t, "Department", space.Task())
	assert.Equal(t, []string{"Sales", "Human Resources", "IT"}, space.Labels())

	i, ok := space.Index("human resources")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, "", space.Label(7))

	_, err = NewLabelSpace("department", []string{"Sales", "sales"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewLabelSpace("department", nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLabelSpaceLabelsIsACopy(t *testing.T) {
	space, err := NewLabelSpace("seniority", []string{"Junior", "Senior"})
	require.NoError(t, err)
	labels := space.Labels()
	labels[0] = "changed"
	assert.Equal(t, "Junior", space.Label(0))
}

func TestLabelSpaceMatchesAndOneHot(t *testing.T) {
	space, err := NewLabelSpace("seniority", []string{"Junior", "Professional", "Senior"})
	require.NoError(t, err)

	assert.True(t, space.Matches([]string{"junior", "PROFESSIONAL", "Senior"}))
	assert.False(t, space.Matches([]string{"Professional", "Junior", "Senior"}))
	assert.False(t, space.Matches([]string{"Junior", "Senior"}))

	vec, ok := space.OneHot("senior")
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 1}, vec)
	_, ok = space.OneHot("Director")
	assert.False(t, ok)
}

func TestLabelMerger(t *testing.T) {
	m := NewLabelMerger(map[string]string{"Director": "Management", " ": "ignored"})
	assert.Equal(t, "Management", m.Apply("director"))
	assert.Equal(t, "Lead", m.Apply("Lead"))

	var empty LabelMerger
	assert.Equal(t, "x", empty.Apply("x"))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Head of IT", NormalizeText("  Head\tof ＩＴ \x07"))
	assert.Equal(t, "head of it", NormalizeKey("Head  of IT"))
}
