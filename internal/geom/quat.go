package geom

import "math"

// Quat is a unit rotation quaternion (X, Y, Z vector part, W scalar).
type Quat struct {
	X float32 `msgpack:"x"`
	Y float32 `msgpack:"y"`
	Z float32 `msgpack:"z"`
	W float32 `msgpack:"w"`
}

// Identity is the zero rotation.
var Identity = Quat{W: 1}

// FromAxisAngle builds a rotation of angle radians around a unit axis.
func FromAxisAngle(axis Vec3, angle float32) Quat {
	half := float64(angle) / 2
	s := float32(math.Sin(half))
	return Quat{X: float32(axis.X * s), Y: float32(axis.Y * s), Z: float32(axis.Z * s), W: float32(math.Cos(half))}
}

// Mul composes rotations: the result applies o first, then q.
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		X: float32(q.W*o.X) + float32(q.X*o.W) + float32(q.Y*o.Z) - float32(q.Z*o.Y),
		Y: float32(q.W*o.Y) - float32(q.X*o.Z) + float32(q.Y*o.W) + float32(q.Z*o.X),
		Z: float32(q.W*o.Z) + float32(q.X*o.Y) - float32(q.Y*o.X) + float32(q.Z*o.W),
		W: float32(q.W*o.W) - float32(q.X*o.X) - float32(q.Y*o.Y) - float32(q.Z*o.Z),
	}
}

func (q Quat) Dot(o Quat) float32 {
	return float32(q.X*o.X) + float32(q.Y*o.Y) + float32(q.Z*o.Z) + float32(q.W*o.W)
}

func (q Quat) Conjugate() Quat {
	return Quat{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W}
}

// Normalize returns q scaled to unit length, or Identity for a zero quaternion.
func (q Quat) Normalize() Quat {
	length := float32(math.Sqrt(float64(q.Dot(q))))
	if length == 0 {
		return Identity
	}
	inv := 1 / length
	return Quat{X: float32(q.X * inv), Y: float32(q.Y * inv), Z: float32(q.Z * inv), W: float32(q.W * inv)}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{X: q.X, Y: q.Y, Z: q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Integrate advances q by angular velocity w (radians per second) over dt.
func (q Quat) Integrate(w Vec3, dt float32) Quat {
	spin := Quat{X: w.X, Y: w.Y, Z: w.Z}.Mul(q)
	h := float32(dt * 0.5)
	return Quat{
		X: q.X + float32(spin.X*h),
		Y: q.Y + float32(spin.Y*h),
		Z: q.Z + float32(spin.Z*h),
		W: q.W + float32(spin.W*h),
	}.Normalize()
}

// Slerp interpolates t of the way from q to o along the shortest arc.
func (q Quat) Slerp(o Quat, t float32) Quat {
	cos := q.Dot(o)
	if cos < 0 {
		o = Quat{X: -o.X, Y: -o.Y, Z: -o.Z, W: -o.W}
		cos = -cos
	}
	if cos > 0.9995 {
		return Quat{
			X: q.X + float32((o.X-q.X)*t),
			Y: q.Y + float32((o.Y-q.Y)*t),
			Z: q.Z + float32((o.Z-q.Z)*t),
			W: q.W + float32((o.W-q.W)*t),
		}.Normalize()
	}
	theta := math.Acos(float64(cos))
	sinTheta := math.Sin(theta)
	a := float32(math.Sin((1-float64(t))*theta) / sinTheta)
	b := float32(math.Sin(float64(t)*theta) / sinTheta)
	return Quat{
		X: float32(q.X*a) + float32(o.X*b),
		Y: float32(q.Y*a) + float32(o.Y*b),
		Z: float32(q.Z*a) + float32(o.Z*b),
		W: float32(q.W*a) + float32(o.W*b),
	}
}

// ApproxEqual treats q and -q as the same rotation.
func (q Quat) ApproxEqual(o Quat, epsilon float32) bool {
	if q.Dot(o) < 0 {
		o = Quat{X: -o.X, Y: -o.Y, Z: -o.Z, W: -o.W}
	}
	return near(q.X, o.X, epsilon) && near(q.Y, o.Y, epsilon) && near(q.Z, o.Z, epsilon) && near(q.W, o.W, epsilon)
}
