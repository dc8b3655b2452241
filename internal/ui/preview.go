package ui

import "strings"

// shades from white to black.
var shades = []rune{' ', '░', '▒', '▓', '█'}

// Preview renders a 2-bit page bitmap as cols x rows block characters.
//
// The bitmap is two bit planes of (width*height+7)/8 bytes, pixels row-major
// and most significant bit first. The first plane holds the high bit of each
// pixel's level; level 0 is white and 3 is black. Missing bytes read as white.
func Preview(page []byte, width, height, cols, rows int) string {
	if width <= 0 || height <= 0 || cols <= 0 || rows <= 0 {
		return ""
	}
	plane := (width*height + 7) / 8
	level := func(x, y int) int {
		i := y*width + x
		hi, lo := i/8, plane+i/8
		shift := 7 - uint(i%8)
		l := 0
		if hi < len(page) {
			l |= int(page[hi]>>shift&1) << 1
		}
		if lo < len(page) {
			l |= int(page[lo] >> shift & 1)
		}
		return l
	}

	var b strings.Builder
	for r := 0; r < rows; r++ {
		y0, y1 := r*height/rows, (r+1)*height/rows
		for c := 0; c < cols; c++ {
			x0, x1 := c*width/cols, (c+1)*width/cols
			sum, n := 0, 0
			for y := y0; y < max(y1, y0+1); y++ {
				for x := x0; x < max(x1, x0+1); x++ {
					sum += level(x, y)
					n++
				}
			}
			// sum/n is in [0,3]; spread it over the five shades.
			b.WriteRune(shades[(sum*(len(shades)-1)*2+3*n)/(6*n)])
		}
		if r < rows-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
