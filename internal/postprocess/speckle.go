package postprocess

// Despeckle zeroes covered regions of alpha (w×h, row-major) whose pixel
// count is below minRatio of all covered pixels. Regions are 8-connected
// sets of pixels with alpha > 0.
func Despeckle(alpha []float32, w, h int, minRatio float64) {
	label := make([]int32, len(alpha))
	var sizes []int
	covered := 0
	stack := make([]int, 0, 256)

	for start, a := range alpha {
		if a <= 0 || label[start] != 0 {
			continue
		}
		id := int32(len(sizes) + 1)
		label[start] = id
		stack = append(stack[:0], start)
		n := 0
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n++
			px, py := p%w, p/w
			for ny := max(py-1, 0); ny <= min(py+1, h-1); ny++ {
				for nx := max(px-1, 0); nx <= min(px+1, w-1); nx++ {
					q := ny*w + nx
					if alpha[q] > 0 && label[q] == 0 {
						label[q] = id
						stack = append(stack, q)
					}
				}
			}
		}
		sizes = append(sizes, n)
		covered += n
	}

	if len(sizes) <= 1 {
		return
	}
	minSize := int(float64(covered) * minRatio)
	for i, id := range label {
		if id != 0 && sizes[id-1] < minSize {
			alpha[i] = 0
		}
	}
}
