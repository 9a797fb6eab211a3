package main

import (
	"fmt"
	"strconv"
	"strings"
)

// BlockKind is the material of a block
type BlockKind string

const (
	KindSteel    BlockKind = "steel"
	KindConcrete BlockKind = "concrete"
	KindWood     BlockKind = "wood"
)

type kindProps struct {
	health       float64
	destructible bool
}

var blockKinds = map[BlockKind]kindProps{
	KindSteel:    {health: 100, destructible: false},
	KindConcrete: {health: 100, destructible: true},
	KindWood:     {health: 50, destructible: true},
}

// ParseBlockKind maps a wire name to a kind. Unknown names fall back to wood.
func ParseBlockKind(s string) BlockKind {
	k := BlockKind(strings.ToLower(s))
	if _, ok := blockKinds[k]; ok {
		return k
	}
	return KindWood
}

// Coord is an integer cell coordinate
type Coord struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// Key returns the "x,y" map key used on the wire
func (c Coord) Key() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y)
}

func (c Coord) neighbors() [4]Coord {
	return [4]Coord{
		{c.X, c.Y + 1},
		{c.X + 1, c.Y},
		{c.X, c.Y - 1},
		{c.X - 1, c.Y},
	}
}

// ParseCoordKey parses an "x,y" key
func ParseCoordKey(key string) (Coord, error) {
	xs, ys, ok := strings.Cut(key, ",")
	if !ok {
		return Coord{}, fmt.Errorf("bad block key %q", key)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return Coord{}, fmt.Errorf("bad block key %q: %w", key, err)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return Coord{}, fmt.Errorf("bad block key %q: %w", key, err)
	}
	return Coord{X: x, Y: y}, nil
}

// Block is one cell of the destructible world. It holds no reference to anything
// outside the World that owns it.
type Block struct {
	X            int
	Y            int
	Kind         BlockKind
	Health       float64
	MaxHealth    float64
	Destructible bool
}

// NewBlock creates a block of the given kind. health <= 0 means full health.
func NewBlock(x, y int, kind BlockKind, health float64) *Block {
	props, ok := blockKinds[kind]
	if !ok {
		kind = KindWood
		props = blockKinds[KindWood]
	}
	if health <= 0 || health > props.health {
		health = props.health
	}
	return &Block{
		X:            x,
		Y:            y,
		Kind:         kind,
		Health:       health,
		MaxHealth:    props.health,
		Destructible: props.destructible,
	}
}

// Coord returns the block's cell
func (b *Block) Coord() Coord {
	return Coord{X: b.X, Y: b.Y}
}

// Bounds returns the unit AABB centered on the cell
func (b *Block) Bounds() AABB {
	return AABB{
		MinX: float64(b.X) - 0.5,
		MaxX: float64(b.X) + 0.5,
		MinY: float64(b.Y) - 0.5,
		MaxY: float64(b.Y) + 0.5,
	}
}

// ToState converts to the wire representation
func (b *Block) ToState() BlockState {
	return BlockState{X: b.X, Y: b.Y, Kind: b.Kind, Health: b.Health}
}
