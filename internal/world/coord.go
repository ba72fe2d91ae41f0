package world

import "fmt"

// Coord is an integer parcel coordinate in the unbounded grid.
type Coord struct {
	X, Y int
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// square returns every coordinate of the (2r+1) x (2r+1) block centered on c,
// row by row.
func square(c Coord, r int) []Coord {
	out := make([]Coord, 0, (2*r+1)*(2*r+1))
	for y := c.Y - r; y <= c.Y+r; y++ {
		for x := c.X - r; x <= c.X+r; x++ {
			out = append(out, Coord{X: x, Y: y})
		}
	}
	return out
}
