package common

import (
	"fmt"
	"math"
)

// AABB is an axis-aligned bounding box over a set of 3D points.
type AABB struct {
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

// EmptyAABB returns a box that contains nothing; unioning it with any
// point or box yields that point or box.
func EmptyAABB() AABB {
	return AABB{
		MinX: math.Inf(1), MinY: math.Inf(1), MinZ: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1), MaxZ: math.Inf(-1),
	}
}

// BoundsOf computes the bounding box of a flat vertex array laid out as
// x0,y0,z0,x1,y1,z1,... Trailing elements that do not form a full triple
// are ignored.
//
// Arguments:
// - verts: Flat vertex coordinates, length 3*V.
//
// Returns:
// - The tightest AABB containing every vertex; EmptyAABB() when verts is empty.
func BoundsOf(verts []float64) AABB {
	box := EmptyAABB()
	for i := 0; i+2 < len(verts); i += 3 {
		box = box.Extend(verts[i], verts[i+1], verts[i+2])
	}
	return box
}

// Extend grows the box to include the point (x, y, z).
func (b AABB) Extend(x, y, z float64) AABB {
	return AABB{
		MinX: math.Min(b.MinX, x), MinY: math.Min(b.MinY, y), MinZ: math.Min(b.MinZ, z),
		MaxX: math.Max(b.MaxX, x), MaxY: math.Max(b.MaxY, y), MaxZ: math.Max(b.MaxZ, z),
	}
}

// Union returns the smallest box containing both boxes.
func (b AABB) Union(other AABB) AABB {
	return AABB{
		MinX: math.Min(b.MinX, other.MinX),
		MinY: math.Min(b.MinY, other.MinY),
		MinZ: math.Min(b.MinZ, other.MinZ),
		MaxX: math.Max(b.MaxX, other.MaxX),
		MaxY: math.Max(b.MaxY, other.MaxY),
		MaxZ: math.Max(b.MaxZ, other.MaxZ),
	}
}

// Empty reports whether the box contains no points.
func (b AABB) Empty() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY || b.MinZ > b.MaxZ
}

// Center returns the midpoint of the box.
func (b AABB) Center() (x, y, z float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2, (b.MinZ + b.MaxZ) / 2
}

// Extent returns the box size along each axis.
func (b AABB) Extent() (dx, dy, dz float64) {
	return b.MaxX - b.MinX, b.MaxY - b.MinY, b.MaxZ - b.MinZ
}

// MaxExtent returns the largest axis size. Renderers use it to pick an
// isotropic scale that fits the whole box.
func (b AABB) MaxExtent() float64 {
	dx, dy, dz := b.Extent()
	return math.Max(dx, math.Max(dy, dz))
}

// Contains reports whether the point (x, y, z) lies inside the box,
// boundary included.
//
// Arguments:
// - x, y, z: The point to test.
//
// Returns:
// - true when the point is within all three axis ranges.
func (b AABB) Contains(x, y, z float64) bool {
	return x >= b.MinX && x <= b.MaxX &&
		y >= b.MinY && y <= b.MaxY &&
		z >= b.MinZ && z <= b.MaxZ
}

func (b AABB) String() string {
	return fmt.Sprintf("AABB (%.3f, %.3f, %.3f)-(%.3f, %.3f, %.3f)",
		b.MinX, b.MinY, b.MinZ, b.MaxX, b.MaxY, b.MaxZ)
}
