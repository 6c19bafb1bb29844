package utils

import "math"

// bitField addresses one little-endian signal inside a 64-bit frame payload.
type bitField struct {
	start  int
	length int
	signed bool
}

func fieldOf(s SignalDef) bitField {
	return bitField{start: s.StartBit, length: s.BitLength, signed: s.Signed}
}

func (f bitField) mask() uint64 {
	if f.length >= 64 {
		return math.MaxUint64
	}
	return uint64(1)<<f.length - 1
}

// extract returns the raw integer stored in the field, sign-extended for
// signed signals.
func (f bitField) extract(payload uint64) int64 {
	u := (payload >> f.start) & f.mask()
	if !f.signed || f.length >= 64 {
		return int64(u)
	}
	signBit := uint64(1) << (f.length - 1)
	if u&signBit == 0 {
		return int64(u)
	}
	return int64(u | ^f.mask())
}

// insert stores raw (saturated to the field range) into payload.
func (f bitField) insert(payload uint64, raw int64) uint64 {
	u := uint64(f.saturate(raw)) & f.mask()
	payload &^= f.mask() << f.start
	return payload | u<<f.start
}

func (f bitField) saturate(raw int64) int64 {
	if f.length >= 63 {
		return raw
	}
	if !f.signed {
		max := int64(1)<<f.length - 1
		return int64(clamp(float64(raw), 0, float64(max)))
	}
	min := -(int64(1) << (f.length - 1))
	max := int64(1)<<(f.length-1) - 1
	return int64(clamp(float64(raw), float64(min), float64(max)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
