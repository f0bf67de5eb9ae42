// Package extension defines the type vocabulary extensions use to describe
// their blocks: block, argument and target types plus the Info descriptor an
// extension returns from its getInfo method.
package extension

// BlockType is the shape of a block in the editor palette.
type BlockType string

const (
	BlockBoolean     BlockType = "Boolean"
	BlockButton      BlockType = "button"
	BlockCommand     BlockType = "command"
	BlockConditional BlockType = "conditional"
	BlockEvent       BlockType = "event"
	BlockHat         BlockType = "hat"
	BlockLabel       BlockType = "label"
	BlockLoop        BlockType = "loop"
	BlockReporter    BlockType = "reporter"
	BlockXML         BlockType = "xml"
)

// ArgumentType is the kind of value a block argument slot accepts.
type ArgumentType string

const (
	ArgumentAngle   ArgumentType = "angle"
	ArgumentBoolean ArgumentType = "Boolean"
	ArgumentColor   ArgumentType = "color"
	ArgumentNumber  ArgumentType = "number"
	ArgumentString  ArgumentType = "string"
	ArgumentMatrix  ArgumentType = "matrix"
	ArgumentNote    ArgumentType = "note"
	ArgumentImage   ArgumentType = "image"
	ArgumentCostume ArgumentType = "costume"
	ArgumentSound   ArgumentType = "sound"
)

// TargetType restricts a block to sprites or the stage.
type TargetType string

const (
	TargetSprite TargetType = "sprite"
	TargetStage  TargetType = "stage"
)

// BlockTypeTable is the enumeration handed to extension code.
type BlockTypeTable struct {
	Boolean, Button, Command, Conditional, Event, Hat, Label, Loop, Reporter, XML BlockType
}

// ArgumentTypeTable is the enumeration handed to extension code.
type ArgumentTypeTable struct {
	Angle, Boolean, Color, Number, String, Matrix, Note, Image, Costume, Sound ArgumentType
}

// TargetTypeTable is the enumeration handed to extension code.
type TargetTypeTable struct {
	Sprite, Stage TargetType
}

var (
	BlockTypes = BlockTypeTable{
		Boolean:     BlockBoolean,
		Button:      BlockButton,
		Command:     BlockCommand,
		Conditional: BlockConditional,
		Event:       BlockEvent,
		Hat:         BlockHat,
		Label:       BlockLabel,
		Loop:        BlockLoop,
		Reporter:    BlockReporter,
		XML:         BlockXML,
	}
	ArgumentTypes = ArgumentTypeTable{
		Angle:   ArgumentAngle,
		Boolean: ArgumentBoolean,
		Color:   ArgumentColor,
		Number:  ArgumentNumber,
		String:  ArgumentString,
		Matrix:  ArgumentMatrix,
		Note:    ArgumentNote,
		Image:   ArgumentImage,
		Costume: ArgumentCostume,
		Sound:   ArgumentSound,
	}
	TargetTypes = TargetTypeTable{
		Sprite: TargetSprite,
		Stage:  TargetStage,
	}
)

var validBlockTypes = map[BlockType]bool{
	BlockBoolean: true, BlockButton: true, BlockCommand: true, BlockConditional: true, BlockEvent: true,
	BlockHat: true, BlockLabel: true, BlockLoop: true, BlockReporter: true, BlockXML: true,
}

var validArgumentTypes = map[ArgumentType]bool{
	ArgumentAngle: true, ArgumentBoolean: true, ArgumentColor: true, ArgumentNumber: true, ArgumentString: true,
	ArgumentMatrix: true, ArgumentNote: true, ArgumentImage: true, ArgumentCostume: true, ArgumentSound: true,
}

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool { return validBlockTypes[t] }

// Valid reports whether t is a known argument type.
func (t ArgumentType) Valid() bool { return validArgumentTypes[t] }

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool { return t == TargetSprite || t == TargetStage }
