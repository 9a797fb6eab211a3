package main

import "math"

// Vec2 is a 2D vector
type Vec2 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Vec3 carries the cosmetic z axis used by the death tumble
type Vec3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// XY drops the z component
func (v Vec3) XY() Vec2 {
	return Vec2{X: v.X, Y: v.Y}
}

// Len returns the vector length
func (v Vec2) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// AABB is an axis-aligned box in world units
type AABB struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// BoxAt returns a box of the given size centered at (cx, cy)
func BoxAt(cx, cy float64, size Vec2) AABB {
	hw, hh := size.X/2, size.Y/2
	return AABB{MinX: cx - hw, MinY: cy - hh, MaxX: cx + hw, MaxY: cy + hh}
}

// Intersects reports strict overlap. Boxes that only touch along an edge do not
// intersect, so a body resting on a block top is not inside it.
func (a AABB) Intersects(b AABB) bool {
	return a.MinX < b.MaxX && a.MaxX > b.MinX && a.MinY < b.MaxY && a.MaxY > b.MinY
}

// BlockQuery is the read side of a World that the resolver needs
type BlockQuery interface {
	BlocksInArea(minX, minY, maxX, maxY int) []*Block
	FloorY() float64
}

// FloorY returns the death floor
func (w *World) FloorY() float64 {
	return w.DeathFloor
}

// overlapping returns the blocks that a box of the given size centered at
// (x, y) intersects. Only blocks within the query margin are considered.
func overlapping(w BlockQuery, x, y float64, size Vec2) []*Block {
	box := BoxAt(x, y, size)
	blocks := w.BlocksInArea(
		int(math.Floor(x-QueryMargin)),
		int(math.Floor(y-QueryMargin)),
		int(math.Floor(x+QueryMargin)),
		int(math.Floor(y+QueryMargin)),
	)
	var hits []*Block
	for _, b := range blocks {
		if box.Intersects(b.Bounds()) {
			hits = append(hits, b)
		}
	}
	return hits
}

func collidesAt(w BlockQuery, x, y float64, size Vec2) bool {
	return len(overlapping(w, x, y, size)) > 0
}
