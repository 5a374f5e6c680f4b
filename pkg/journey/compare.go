package journey

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/pumba68/qatering-journeys/pkg/models"
)

// compareValues evaluates an attribute branch operator against the user's
// live attribute value. Numeric comparisons coerce both sides to float64
// so JSON-decoded numbers and string-typed profile fields compare sanely.
func compareValues(operator models.CompareOperator, actual, expected any) (bool, error) {
	switch operator {
	case models.OperatorEq, models.OperatorNe:
		equal := looseEqual(actual, expected)
		if operator == models.OperatorNe {
			return !equal, nil
		}

		return equal, nil
	case models.OperatorGt, models.OperatorLt, models.OperatorGte, models.OperatorLte:
		left, okLeft := toFloat(actual)
		right, okRight := toFloat(expected)

		if !okLeft || !okRight {
			return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", operator, actual, expected)
		}

		switch operator {
		case models.OperatorGt:
			return left > right, nil
		case models.OperatorLt:
			return left < right, nil
		case models.OperatorGte:
			return left >= right, nil
		default:
			return left <= right, nil
		}
	case models.OperatorContains:
		return contains(actual, expected)
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func looseEqual(actual, expected any) bool {
	if left, ok := toFloat(actual); ok {
		if right, ok := toFloat(expected); ok {
			return left == right
		}
	}

	return reflect.DeepEqual(actual, expected) ||
		fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
}

func contains(actual, expected any) (bool, error) {
	switch haystack := actual.(type) {
	case string:
		return strings.Contains(haystack, fmt.Sprintf("%v", expected)), nil
	case []any:
		for _, item := range haystack {
			if looseEqual(item, expected) {
				return true, nil
			}
		}

		return false, nil
	case []string:
		needle := fmt.Sprintf("%v", expected)
		for _, item := range haystack {
			if item == needle {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("operator contains requires a string or list, got %T", actual)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
