package builtin

import (
	"context"
	"fmt"
	"math"

	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/extension"
)

var mathInfo = extension.Info{
	ID:   "math",
	Name: "Math",
	Blocks: []extension.Block{
		{
			Opcode:    "clamp",
			BlockType: extension.BlockReporter,
			Text:      "clamp [X] between [LOW] and [HIGH]",
			Arguments: map[string]extension.Argument{
				"X":    {Type: extension.ArgumentNumber, DefaultValue: 50},
				"LOW":  {Type: extension.ArgumentNumber, DefaultValue: 0},
				"HIGH": {Type: extension.ArgumentNumber, DefaultValue: 100},
			},
		},
		{
			Opcode:    "power",
			BlockType: extension.BlockReporter,
			Text:      "[BASE] ^ [EXP]",
			Arguments: map[string]extension.Argument{
				"BASE": {Type: extension.ArgumentNumber, DefaultValue: 2},
				"EXP":  {Type: extension.ArgumentNumber, DefaultValue: 8},
			},
		},
		{
			Opcode:    "pointTowards",
			BlockType: extension.BlockReporter,
			Text:      "direction from ([X1],[Y1]) to ([X2],[Y2])",
			Arguments: map[string]extension.Argument{
				"X1": {Type: extension.ArgumentNumber, DefaultValue: 0},
				"Y1": {Type: extension.ArgumentNumber, DefaultValue: 0},
				"X2": {Type: extension.ArgumentNumber, DefaultValue: 10},
				"Y2": {Type: extension.ArgumentNumber, DefaultValue: 10},
			},
			FilterTypes: []extension.TargetType{extension.TargetSprite},
		},
		{
			Opcode:    "isPrime",
			BlockType: extension.BlockBoolean,
			Text:      "[N] is prime?",
			Arguments: map[string]extension.Argument{
				"N": {Type: extension.ArgumentNumber, DefaultValue: 7},
			},
		},
	},
}

var mathMethods = dispatcher.Service{
	"clamp": func(_ context.Context, args []interface{}) (interface{}, error) {
		nums, err := floats(args, 3)
		if err != nil {
			return nil, err
		}
		x, low, high := nums[0], nums[1], nums[2]
		if low > high {
			low, high = high, low
		}
		return math.Min(math.Max(x, low), high), nil
	},
	"power": func(_ context.Context, args []interface{}) (interface{}, error) {
		nums, err := floats(args, 2)
		if err != nil {
			return nil, err
		}
		v := math.Pow(nums[0], nums[1])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%v ^ %v is not a finite number", nums[0], nums[1])
		}
		return v, nil
	},
	// pointTowards uses editor directions: 0 is up, 90 is right.
	"pointTowards": func(_ context.Context, args []interface{}) (interface{}, error) {
		nums, err := floats(args, 4)
		if err != nil {
			return nil, err
		}
		dx, dy := nums[2]-nums[0], nums[3]-nums[1]
		if dx == 0 && dy == 0 {
			return 90.0, nil
		}
		return 90 - math.Atan2(dy, dx)*180/math.Pi, nil
	},
	"isPrime": func(_ context.Context, args []interface{}) (interface{}, error) {
		n, err := dispatcher.ArgInt(args, 0)
		if err != nil {
			return nil, err
		}
		if n < 2 {
			return false, nil
		}
		for d := 2; d*d <= n; d++ {
			if n%d == 0 {
				return false, nil
			}
		}
		return true, nil
	},
}

func floats(args []interface{}, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := dispatcher.ArgFloat(args, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
