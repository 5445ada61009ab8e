package tensor

// Op records out as the result of a computation on parents. backward
// receives the gradient of out and must accumulate into the parents'
// GradBuffer. If no parent requires gradients the op is not recorded.
func Op(out *Tensor, parents []*Tensor, backward func(grad []float32)) *Tensor {
	for _, p := range parents {
		if p.requiresGrad {
			out.requiresGrad = true
			out.node = &node{parents: parents, backward: backward}
			break
		}
	}
	return out
}

// Backward propagates seed (the gradient of some scalar objective with
// respect to t) through the graph. A nil seed means all ones.
//
// Gradients accumulate on leaves across calls. Computed tensors hold their
// gradient only while the call runs, so a graph can be backpropagated
// more than once.
func Backward(t *Tensor, seed []float32) {
	if !t.requiresGrad {
		return
	}
	g := t.GradBuffer()
	if seed == nil {
		for i := range g {
			g[i]++
		}
	} else {
		if len(seed) != len(g) {
			panic("tensor: backward seed does not match tensor size")
		}
		for i, v := range seed {
			g[i] += v
		}
	}

	order := topo(t)
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.node == nil || n.grad == nil {
			continue
		}
		n.node.backward(n.grad)
		n.grad = nil
	}
}

// topo returns the graph reachable from t with every tensor listed after
// its parents.
func topo(t *Tensor) []*Tensor {
	var order []*Tensor
	seen := make(map[*Tensor]bool)
	type frame struct {
		t    *Tensor
		next int
	}
	stack := []frame{{t: t}}
	seen[t] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.t.node != nil && top.next < len(top.t.node.parents) {
			p := top.t.node.parents[top.next]
			top.next++
			if !seen[p] && p.requiresGrad {
				seen[p] = true
				stack = append(stack, frame{t: p})
			}
			continue
		}
		order = append(order, top.t)
		stack = stack[:len(stack)-1]
	}
	return order
}
