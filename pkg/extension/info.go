package extension

import (
	"fmt"
	"regexp"
)

// MethodGetInfo is the method every extension service answers with its Info.
const MethodGetInfo = "getInfo"

var idPattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)

// Info describes an extension and the blocks it provides.
type Info struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Blocks []Block `json:"blocks"`
}

// Block describes one block. Opcode names the service method that runs it.
type Block struct {
	Opcode      string              `json:"opcode"`
	BlockType   BlockType           `json:"blockType"`
	Text        string              `json:"text"`
	Arguments   map[string]Argument `json:"arguments,omitempty"`
	FilterTypes []TargetType        `json:"filter,omitempty"`
}

// Argument describes one argument slot of a block.
type Argument struct {
	Type         ArgumentType `json:"type"`
	DefaultValue interface{}  `json:"defaultValue,omitempty"`
}

// Validate checks ids, types and opcode uniqueness.
func (i *Info) Validate() error {
	if !idPattern.MatchString(i.ID) {
		return fmt.Errorf("extension: invalid id %q", i.ID)
	}
	seen := make(map[string]bool, len(i.Blocks))
	for _, b := range i.Blocks {
		if b.BlockType != BlockLabel && b.BlockType != BlockButton && b.Opcode == "" {
			return fmt.Errorf("extension %s: block %q has no opcode", i.ID, b.Text)
		}
		if b.Opcode != "" {
			if seen[b.Opcode] {
				return fmt.Errorf("extension %s: duplicate opcode %s", i.ID, b.Opcode)
			}
			seen[b.Opcode] = true
		}
		if !b.BlockType.Valid() {
			return fmt.Errorf("extension %s: block %s has unknown type %q", i.ID, b.Opcode, b.BlockType)
		}
		for name, arg := range b.Arguments {
			if !arg.Type.Valid() {
				return fmt.Errorf("extension %s: %s.%s has unknown argument type %q", i.ID, b.Opcode, name, arg.Type)
			}
		}
		for _, t := range b.FilterTypes {
			if !t.Valid() {
				return fmt.Errorf("extension %s: block %s has unknown target type %q", i.ID, b.Opcode, t)
			}
		}
	}
	return nil
}

// Opcodes lists the opcodes of runnable blocks in declaration order.
func (i *Info) Opcodes() []string {
	out := make([]string, 0, len(i.Blocks))
	for _, b := range i.Blocks {
		if b.Opcode != "" {
			out = append(out, b.Opcode)
		}
	}
	return out
}
