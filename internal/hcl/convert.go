package hcl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// stringMapFromExpression evaluates a map-shaped expression into Go strings.
// A nil or absent expression yields a nil map.
func stringMapFromExpression(expr hcl.Expression) (map[string]string, error) {
	val, err := evalMapExpression(expr)
	if err != nil || val == cty.NilVal {
		return nil, err
	}

	out := make(map[string]string, val.LengthInt())
	for key, elem := range val.AsValueMap() {
		converted, err := convert.Convert(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("value of %q is not a string: %w", key, err)
		}
		if converted.IsNull() {
			return nil, fmt.Errorf("value of %q is null", key)
		}
		out[key] = converted.AsString()
	}
	return out, nil
}

// floatMapFromExpression evaluates a map-shaped expression into Go floats.
// A nil or absent expression yields a nil map.
func floatMapFromExpression(expr hcl.Expression) (map[string]float64, error) {
	val, err := evalMapExpression(expr)
	if err != nil || val == cty.NilVal {
		return nil, err
	}

	out := make(map[string]float64, val.LengthInt())
	for key, elem := range val.AsValueMap() {
		var f float64
		if err := gocty.FromCtyValue(elem, &f); err != nil {
			return nil, fmt.Errorf("value of %q is not a number: %w", key, err)
		}
		out[key] = f
	}
	return out, nil
}

// evalMapExpression evaluates an optional expression and checks it can be
// iterated as a map. Returns cty.NilVal when the attribute was absent.
func evalMapExpression(expr hcl.Expression) (cty.Value, error) {
	if expr == nil {
		return cty.NilVal, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("failed to evaluate expression: %w", diags)
	}
	if val.IsNull() {
		return cty.NilVal, nil
	}
	if !val.CanIterateElements() {
		return cty.NilVal, fmt.Errorf("expected a map, got %s", val.Type().FriendlyName())
	}
	return val, nil
}
