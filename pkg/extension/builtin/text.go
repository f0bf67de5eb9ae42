package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/morezero/extension-workers/pkg/dispatcher"
	"github.com/morezero/extension-workers/pkg/extension"
)

var textInfo = extension.Info{
	ID:   "text",
	Name: "Text",
	Blocks: []extension.Block{
		{
			Opcode:    "join",
			BlockType: extension.BlockReporter,
			Text:      "join [A] [B]",
			Arguments: map[string]extension.Argument{
				"A": {Type: extension.ArgumentString, DefaultValue: "apple "},
				"B": {Type: extension.ArgumentString, DefaultValue: "banana"},
			},
		},
		{
			Opcode:    "letterOf",
			BlockType: extension.BlockReporter,
			Text:      "letter [N] of [S]",
			Arguments: map[string]extension.Argument{
				"N": {Type: extension.ArgumentNumber, DefaultValue: 1},
				"S": {Type: extension.ArgumentString, DefaultValue: "apple"},
			},
		},
		{
			Opcode:    "length",
			BlockType: extension.BlockReporter,
			Text:      "length of [S]",
			Arguments: map[string]extension.Argument{
				"S": {Type: extension.ArgumentString, DefaultValue: "apple"},
			},
		},
		{
			Opcode:    "contains",
			BlockType: extension.BlockBoolean,
			Text:      "[S] contains [SUB]?",
			Arguments: map[string]extension.Argument{
				"S":   {Type: extension.ArgumentString, DefaultValue: "apple"},
				"SUB": {Type: extension.ArgumentString, DefaultValue: "a"},
			},
		},
	},
}

// textMethods take their arguments in the order the block text names them.
var textMethods = dispatcher.Service{
	"join": func(_ context.Context, args []interface{}) (interface{}, error) {
		return fmt.Sprint(arg(args, 0)) + fmt.Sprint(arg(args, 1)), nil
	},
	"letterOf": func(_ context.Context, args []interface{}) (interface{}, error) {
		n, err := dispatcher.ArgInt(args, 0)
		if err != nil {
			return nil, err
		}
		runes := []rune(fmt.Sprint(arg(args, 1)))
		if n < 1 || n > len(runes) {
			return "", nil
		}
		return string(runes[n-1]), nil
	},
	"length": func(_ context.Context, args []interface{}) (interface{}, error) {
		return utf8.RuneCountInString(fmt.Sprint(arg(args, 0))), nil
	},
	"contains": func(_ context.Context, args []interface{}) (interface{}, error) {
		s := strings.ToLower(fmt.Sprint(arg(args, 0)))
		sub := strings.ToLower(fmt.Sprint(arg(args, 1)))
		return strings.Contains(s, sub), nil
	},
}

// arg returns args[i] or "" when the block left the slot empty.
func arg(args []interface{}, i int) interface{} {
	if i >= len(args) || args[i] == nil {
		return ""
	}
	return args[i]
}
