package world

import (
	"math"
	"math/rand"
)

// perlin generates coherent 2D noise for terrain altitude.
// It is read-only after construction.
type perlin struct {
	perm [512]int
}

func newPerlin(seed int64) *perlin {
	p := &perlin{}
	rng := rand.New(rand.NewSource(seed))

	var perm [256]int
	for i := range perm {
		perm[i] = i
	}
	for i := len(perm) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	for i := 0; i < 256; i++ {
		p.perm[i] = perm[i]
		p.perm[i+256] = perm[i]
	}
	return p
}

// noise returns a value in about [-1, 1] at (x, y).
func (p *perlin) noise(x, y float64) float64 {
	X := int(math.Floor(x)) & 255
	Y := int(math.Floor(y)) & 255
	x -= math.Floor(x)
	y -= math.Floor(y)
	u, v := fade(x), fade(y)

	a := p.perm[X] + Y
	b := p.perm[X+1] + Y
	return lerp(v,
		lerp(u, grad2D(p.perm[a], x, y), grad2D(p.perm[b], x-1, y)),
		lerp(u, grad2D(p.perm[a+1], x, y-1), grad2D(p.perm[b+1], x-1, y-1)))
}

// fbm sums octaves of noise, each at twice the frequency and half the amplitude
// of the previous one. The result is normalized to about [-1, 1].
func (p *perlin) fbm(x, y float64, octaves int) float64 {
	var sum, norm float64
	amp := 1.0
	for range octaves {
		sum += amp * p.noise(x, y)
		norm += amp
		x, y = x*2, y*2
		amp /= 2
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

func grad2D(hash int, x, y float64) float64 {
	switch hash & 7 {
	case 0:
		return x + y
	case 1:
		return -x + y
	case 2:
		return x - y
	case 3:
		return -x - y
	case 4:
		return x
	case 5:
		return -x
	case 6:
		return y
	default:
		return -y
	}
}
