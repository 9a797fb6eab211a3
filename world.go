package main

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"lukechampine.com/blake3"
)

const (
	DefaultWorldWidth = 100
	DefaultDeathFloor = -20.0
	groundDepth       = 5
	towerHeight       = 7
	towerHalfSpan     = 4
)

// DamageOutcome tags the result of DamageBlock
type DamageOutcome int

const (
	DamageNone DamageOutcome = iota
	DamageDamaged
	DamageDestroyed
)

// DamageResult reports what a damage event did to the World
type DamageResult struct {
	Outcome DamageOutcome
	Health  float64
	Removed []Coord // destroyed cell first, then cascade
}

// World is the sparse destructible grid for one room
type World struct {
	blocks       map[Coord]*Block
	ghosts       map[string]Coord
	lastModified Coord
	DeathFloor   float64
}

// NewWorld creates an empty world
func NewWorld() *World {
	return &World{
		blocks:     make(map[Coord]*Block),
		ghosts:     make(map[string]Coord),
		DeathFloor: DefaultDeathFloor,
	}
}

// Generate builds the arena: steel bedrock, concrete and wood fill, and a
// steel-anchored tower with a wooden platform near each end.
func Generate(width int) *World {
	if width < 2*(towerHalfSpan+4) {
		width = 2 * (towerHalfSpan + 4)
	}
	w := NewWorld()
	for x := 0; x < width; x++ {
		w.CreateBlock(x, 0, KindSteel, false)
		for y := 1; y < groundDepth; y++ {
			kind := KindConcrete
			if y >= 3 {
				kind = KindWood
			}
			w.CreateBlock(x, y, kind, false)
		}
	}
	for _, tx := range []int{towerHalfSpan + 4, width - towerHalfSpan - 5} {
		top := groundDepth + towerHeight - 1
		for y := groundDepth; y <= top; y++ {
			w.CreateBlock(tx, y, KindSteel, false)
		}
		for x := tx - towerHalfSpan; x <= tx+towerHalfSpan; x++ {
			w.CreateBlock(x, top+1, KindWood, false)
		}
	}
	return w
}

// Len returns the number of blocks
func (w *World) Len() int {
	return len(w.blocks)
}

// Block returns the block at (x,y) or nil
func (w *World) Block(x, y int) *Block {
	return w.blocks[Coord{x, y}]
}

// LastModified returns the most recently created or removed cell
func (w *World) LastModified() Coord {
	return w.lastModified
}

// IsValidSpot reports whether the cell is unoccupied
func (w *World) IsValidSpot(x, y int) bool {
	_, ok := w.blocks[Coord{x, y}]
	return !ok
}

func (w *World) hasNeighbor(c Coord) bool {
	for _, n := range c.neighbors() {
		if _, ok := w.blocks[n]; ok {
			return true
		}
	}
	return false
}

// CreateBlock inserts a block. It fails if the cell is occupied, and when live
// also if the cell has no occupied 4-neighbor.
func (w *World) CreateBlock(x, y int, kind BlockKind, live bool) (*Block, bool) {
	return w.insert(NewBlock(x, y, kind, 0), live)
}

func (w *World) insert(b *Block, live bool) (*Block, bool) {
	c := b.Coord()
	if _, ok := w.blocks[c]; ok {
		return nil, false
	}
	if live && !w.hasNeighbor(c) {
		return nil, false
	}
	w.blocks[c] = b
	w.lastModified = c
	return b, true
}

// DamageBlock reduces a destructible block's health, removing it (with cascade) at zero
func (w *World) DamageBlock(x, y int, amount float64) DamageResult {
	b, ok := w.blocks[Coord{x, y}]
	if !ok || !b.Destructible || amount <= 0 {
		return DamageResult{Outcome: DamageNone}
	}
	b.Health = math.Max(0, b.Health-amount)
	if b.Health > 0 {
		w.lastModified = b.Coord()
		return DamageResult{Outcome: DamageDamaged, Health: b.Health}
	}
	return DamageResult{Outcome: DamageDestroyed, Removed: w.removeAndSweep(b.Coord())}
}

// RemoveBlock deletes a destructible block and every block left unanchored by
// its removal. Returns the removed cells, the target first.
func (w *World) RemoveBlock(x, y int) []Coord {
	b, ok := w.blocks[Coord{x, y}]
	if !ok || !b.Destructible {
		return nil
	}
	return w.removeAndSweep(b.Coord())
}

// RemoveAnchor is RemoveBlock without the destructibility guard. Live play never
// calls it; map tooling and tests use it to take out steel.
func (w *World) RemoveAnchor(x, y int) []Coord {
	c := Coord{x, y}
	if _, ok := w.blocks[c]; !ok {
		return nil
	}
	return w.removeAndSweep(c)
}

// removeAndSweep deletes c and runs the connectivity sweep over its neighbors.
// anchored is shared by all traversals of the sweep.
func (w *World) removeAndSweep(c Coord) []Coord {
	delete(w.blocks, c)
	w.lastModified = c
	removed := []Coord{c}

	anchored := make(map[Coord]bool)
	doomed := make(map[Coord]bool)
	for _, n := range c.neighbors() {
		if _, ok := w.blocks[n]; !ok || anchored[n] || doomed[n] {
			continue
		}
		visited, ok := w.traverse(n, anchored)
		if ok {
			for _, v := range visited {
				anchored[v] = true
			}
			continue
		}
		for _, v := range visited {
			doomed[v] = true
			removed = append(removed, v)
		}
	}
	for d := range doomed {
		delete(w.blocks, d)
	}
	return removed
}

// traverse runs a BFS over occupied cells from start. It stops as soon as it
// reaches an indestructible block or a cell in anchored.
func (w *World) traverse(start Coord, anchored map[Coord]bool) ([]Coord, bool) {
	seen := map[Coord]bool{start: true}
	order := []Coord{start}
	for i := 0; i < len(order); i++ {
		cur := order[i]
		if anchored[cur] || !w.blocks[cur].Destructible {
			return order, true
		}
		for _, n := range cur.neighbors() {
			if seen[n] {
				continue
			}
			if _, ok := w.blocks[n]; !ok {
				continue
			}
			seen[n] = true
			order = append(order, n)
		}
	}
	return order, false
}

// BlocksInArea returns all blocks with minX<=x<=maxX and minY<=y<=maxY
func (w *World) BlocksInArea(minX, minY, maxX, maxY int) []*Block {
	if maxX < minX || maxY < minY {
		return nil
	}
	var out []*Block
	area := (maxX - minX + 1) * (maxY - minY + 1)
	if area > len(w.blocks) {
		for c, b := range w.blocks {
			if c.X >= minX && c.X <= maxX && c.Y >= minY && c.Y <= maxY {
				out = append(out, b)
			}
		}
		return out
	}
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			if b, ok := w.blocks[Coord{x, y}]; ok {
				out = append(out, b)
			}
		}
	}
	return out
}

// Overlaps reports whether any block intersects box
func (w *World) Overlaps(box AABB) bool {
	minX := int(math.Floor(box.MinX - 0.5))
	maxX := int(math.Ceil(box.MaxX + 0.5))
	minY := int(math.Floor(box.MinY - 0.5))
	maxY := int(math.Ceil(box.MaxY + 0.5))
	for _, b := range w.BlocksInArea(minX, minY, maxX, maxY) {
		if box.Intersects(b.Bounds()) {
			return true
		}
	}
	return false
}

// SetGhost records owner's placement preview and reports whether a live
// placement there would succeed.
func (w *World) SetGhost(owner string, x, y int) bool {
	c := Coord{x, y}
	w.ghosts[owner] = c
	return w.IsValidSpot(x, y) && w.hasNeighbor(c)
}

// ClearGhost drops owner's preview
func (w *World) ClearGhost(owner string) bool {
	if _, ok := w.ghosts[owner]; !ok {
		return false
	}
	delete(w.ghosts, owner)
	return true
}

// Ghost returns owner's preview cell
func (w *World) Ghost(owner string) (Coord, bool) {
	c, ok := w.ghosts[owner]
	return c, ok
}

// Snapshot returns every block sorted by (x, y)
func (w *World) Snapshot() []BlockEntry {
	out := make([]BlockEntry, 0, len(w.blocks))
	for c, b := range w.blocks {
		out = append(out, BlockEntry{Key: c.Key(), Block: b.ToState()})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Block, out[j].Block
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return out
}

// Checksum hashes the sorted block set. Two replicas holding the same blocks
// produce the same checksum.
func (w *World) Checksum() string {
	return checksumEntries(w.Snapshot())
}

func checksumEntries(entries []BlockEntry) string {
	h := blake3.New(32, nil)
	var buf [16]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(e.Block.X)))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(e.Block.Y)))
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(e.Block.Health))
		h.Write(buf[:])
		h.Write([]byte(e.Block.Kind))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Set places or overwrites a block without placement rules. Replicas mirror
// server decisions with it.
func (w *World) Set(b *Block) {
	w.blocks[b.Coord()] = b
	w.lastModified = b.Coord()
}

// Delete removes one cell without a connectivity sweep
func (w *World) Delete(x, y int) bool {
	c := Coord{x, y}
	if _, ok := w.blocks[c]; !ok {
		return false
	}
	delete(w.blocks, c)
	w.lastModified = c
	return true
}

// LoadSnapshot replaces the world contents with entries
func (w *World) LoadSnapshot(entries []BlockEntry) {
	w.blocks = make(map[Coord]*Block, len(entries))
	for _, e := range entries {
		w.insert(NewBlock(e.Block.X, e.Block.Y, e.Block.Kind, e.Block.Health), false)
	}
}

// SurfaceAt returns the y of the highest block in column x, or false if empty
func (w *World) SurfaceAt(x int) (int, bool) {
	top, found := 0, false
	for c := range w.blocks {
		if c.X == x && (!found || c.Y > top) {
			top, found = c.Y, true
		}
	}
	return top, found
}
