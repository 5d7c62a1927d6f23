package simulator

// A ConnMat is a connectivity matrix.
//
// Entries in the matrix indicate a transfer rate from a
// source node (row) to a destination node (column).
// A zero entry means there is no link.
type ConnMat struct {
	numNodes int
	rates    []float64
}

// NewConnMat creates an all-zero connection matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{
		numNodes: numNodes,
		rates:    make([]float64, numNodes*numNodes),
	}
}

// NewUniformConnMat creates a matrix where every pair of
// distinct nodes is linked at the same rate.
func NewUniformConnMat(numNodes int, rate float64) *ConnMat {
	mat := NewConnMat(numNodes)
	for src := 0; src < numNodes; src++ {
		for dst := 0; dst < numNodes; dst++ {
			if src != dst {
				mat.Set(src, dst, rate)
			}
		}
	}
	return mat
}

// NumNodes returns the number of nodes.
func (c *ConnMat) NumNodes() int {
	return c.numNodes
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	c.checkBounds(src, dst)
	return c.rates[src*c.numNodes+dst]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.checkBounds(src, dst)
	c.rates[src*c.numNodes+dst] = value
}

// SetSymmetric sets the rate of the link in both
// directions.
func (c *ConnMat) SetSymmetric(a, b int, value float64) {
	c.Set(a, b, value)
	c.Set(b, a, value)
}

// SumSource sums the outgoing rates of src.
func (c *ConnMat) SumSource(src int) float64 {
	var sum float64
	for dst := 0; dst < c.numNodes; dst++ {
		sum += c.Get(src, dst)
	}
	return sum
}

// SumDest sums the incoming rates of dst.
func (c *ConnMat) SumDest(dst int) float64 {
	var sum float64
	for src := 0; src < c.numNodes; src++ {
		sum += c.Get(src, dst)
	}
	return sum
}

// ScaleSource multiplies the outgoing rates of src.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	for dst := 0; dst < c.numNodes; dst++ {
		c.Set(src, dst, c.Get(src, dst)*scale)
	}
}

// ScaleDest multiplies the incoming rates of dst.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	for src := 0; src < c.numNodes; src++ {
		c.Set(src, dst, c.Get(src, dst)*scale)
	}
}

func (c *ConnMat) checkBounds(src, dst int) {
	if src < 0 || dst < 0 || src >= c.numNodes || dst >= c.numNodes {
		panic("index out of bounds")
	}
}
