// Package geom holds the float32 vector and quaternion math shared by the
// simulation, snapshots and visual correction. Products are wrapped in
// explicit float32 conversions so the compiler never fuses multiply-add
// pairs; resimulation has to reproduce results bit for bit.
package geom

import "math"

type Vec3 struct {
	X float32 `msgpack:"x"`
	Y float32 `msgpack:"y"`
	Z float32 `msgpack:"z"`
}

var (
	Right   = Vec3{X: 1}
	Up      = Vec3{Y: 1}
	Back    = Vec3{Z: 1}
	Forward = Vec3{Z: -1}
	Down    = Vec3{Y: -1}
)

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{X: float32(v.X * s), Y: float32(v.Y * s), Z: float32(v.Z * s)}
}

func (v Vec3) Dot(o Vec3) float32 {
	return float32(v.X*o.X) + float32(v.Y*o.Y) + float32(v.Z*o.Z)
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: float32(v.Y*o.Z) - float32(v.Z*o.Y),
		Y: float32(v.Z*o.X) - float32(v.X*o.Z),
		Z: float32(v.X*o.Y) - float32(v.Y*o.X),
	}
}

func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.Dot(v))))
}

// Lerp moves t of the way from v to o.
func (v Vec3) Lerp(o Vec3, t float32) Vec3 {
	return v.Add(o.Sub(v).Scale(t))
}

// ApproxEqual compares component-wise within epsilon.
func (v Vec3) ApproxEqual(o Vec3, epsilon float32) bool {
	return near(v.X, o.X, epsilon) && near(v.Y, o.Y, epsilon) && near(v.Z, o.Z, epsilon)
}

func near(a, b, epsilon float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= epsilon
}
