package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumba68/qatering-journeys/pkg/models"
)

func TestCompareValues_Numeric(t *testing.T) {
	result, err := compareValues(models.OperatorGte, 5, 3)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = compareValues(models.OperatorLt, 2.5, 3)
	require.NoError(t, err)
	assert.True(t, result)

	// JSON-decoded numbers arrive as float64, profile values may be strings.
	result, err = compareValues(models.OperatorGt, "10", float64(3))
	require.NoError(t, err)
	assert.True(t, result)

	_, err = compareValues(models.OperatorGt, "not-a-number", 3)
	require.Error(t, err)
}

func TestCompareValues_Equality(t *testing.T) {
	result, err := compareValues(models.OperatorEq, "gold", "gold")
	require.NoError(t, err)
	assert.True(t, result)

	result, err = compareValues(models.OperatorEq, 3, float64(3))
	require.NoError(t, err)
	assert.True(t, result)

	result, err = compareValues(models.OperatorNe, "gold", "silver")
	require.NoError(t, err)
	assert.True(t, result)
}

func TestCompareValues_Contains(t *testing.T) {
	result, err := compareValues(models.OperatorContains, "vegetarian,vegan", "vegan")
	require.NoError(t, err)
	assert.True(t, result)

	result, err = compareValues(models.OperatorContains, []any{"lunch", "dinner"}, "lunch")
	require.NoError(t, err)
	assert.True(t, result)

	result, err = compareValues(models.OperatorContains, []string{"lunch"}, "breakfast")
	require.NoError(t, err)
	assert.False(t, result)

	_, err = compareValues(models.OperatorContains, 42, "4")
	require.Error(t, err)
}

func TestCompareValues_UnknownOperator(t *testing.T) {
	_, err := compareValues("between", 1, 2)
	require.Error(t, err)
}
