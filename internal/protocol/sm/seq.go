package sm

// Delta returns (a - b) mod 2^32.
func Delta(a, b uint32) uint32 {
	return a - b
}

// Next returns (v + 1) mod 2^32.
func Next(v uint32) uint32 {
	return v + 1
}
