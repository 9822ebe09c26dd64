package snapshot

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Checksum hashes the canonical little-endian encoding of entities with
// xxhash64. Two slices produce the same checksum only if every float is
// bit-identical, which is what resimulation has to guarantee.
func Checksum(entities []EntityState) uint64 {
	digest := xxhash.New()
	buf := make([]byte, 0, 64)
	for _, state := range entities {
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint32(buf, uint32(state.Entity))
		for _, v := range [...]float32{
			state.Position.X, state.Position.Y, state.Position.Z,
			state.Rotation.X, state.Rotation.Y, state.Rotation.Z, state.Rotation.W,
			state.LinearVelocity.X, state.LinearVelocity.Y, state.LinearVelocity.Z,
			state.AngularVelocity.X, state.AngularVelocity.Y, state.AngularVelocity.Z,
		} {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
		buf = append(buf, boolByte(state.AutoBalance), boolByte(state.AutoBalanceLatch))
		_, _ = digest.Write(buf)
	}
	return digest.Sum64()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
