package body

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Builder wraps expression-graph construction with error latching: the
// first failing operation is recorded and every later call becomes a
// no-op returning nil, so forward and loss pipelines can be emitted as
// straight-line code with a single error check at the end.
type Builder struct {
	g   *gorgonia.ExprGraph
	err error
	seq int
}

// NewBuilder returns a builder emitting into g.
func NewBuilder(g *gorgonia.ExprGraph) *Builder {
	return &Builder{g: g}
}

// Graph returns the underlying expression graph.
func (b *Builder) Graph() *gorgonia.ExprGraph {
	return b.g
}

// Err returns the first construction error, if any.
func (b *Builder) Err() error {
	return b.err
}

// Failf latches a construction error directly, for validation failures
// outside individual ops.
func (b *Builder) Failf(format string, args ...interface{}) {
	if b.err == nil {
		b.err = errors.Errorf(format, args...)
	}
}

func (b *Builder) fail(op string, err error) *gorgonia.Node {
	if b.err == nil {
		b.err = errors.Wrapf(err, "body: graph op %s", op)
	}
	return nil
}

func (b *Builder) bad(ns ...*gorgonia.Node) bool {
	if b.err != nil {
		return true
	}
	for _, n := range ns {
		if n == nil {
			b.err = errors.New("body: graph op received nil node")
			return true
		}
	}
	return false
}

func (b *Builder) name(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s_%d", prefix, b.seq)
}

// Input declares a named float64 input node of the given shape; its value
// is bound per evaluation with gorgonia.Let.
func (b *Builder) Input(name string, shape ...int) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	switch len(shape) {
	case 1:
		return gorgonia.NewVector(b.g, tensor.Float64, gorgonia.WithShape(shape...), gorgonia.WithName(name))
	case 2:
		return gorgonia.NewMatrix(b.g, tensor.Float64, gorgonia.WithShape(shape...), gorgonia.WithName(name))
	default:
		return gorgonia.NewTensor(b.g, tensor.Float64, len(shape), gorgonia.WithShape(shape...), gorgonia.WithName(name))
	}
}

// Const embeds a read-only tensor with the given shape and backing data.
// The data slice is used directly, not copied.
func (b *Builder) Const(name string, shape []int, data []float64) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return gorgonia.NodeFromAny(b.g, t, gorgonia.WithName(b.name(name)))
}

// Scalar embeds a read-only scalar.
func (b *Builder) Scalar(name string, v float64) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	return gorgonia.NodeFromAny(b.g, v, gorgonia.WithName(b.name(name)))
}

// Ones embeds a column of ones, the usual left operand for broadcasting a
// row constant over the batch.
func (b *Builder) Ones(rows int) *gorgonia.Node {
	data := make([]float64, rows)
	for i := range data {
		data[i] = 1
	}
	return b.Const("ones", []int{rows, 1}, data)
}

func (b *Builder) binary(op string, f func(a, c *gorgonia.Node) (*gorgonia.Node, error), a, c *gorgonia.Node) *gorgonia.Node {
	if b.bad(a, c) {
		return nil
	}
	n, err := f(a, c)
	if err != nil {
		return b.fail(op, err)
	}
	return n
}

func (b *Builder) unary(op string, f func(a *gorgonia.Node) (*gorgonia.Node, error), a *gorgonia.Node) *gorgonia.Node {
	if b.bad(a) {
		return nil
	}
	n, err := f(a)
	if err != nil {
		return b.fail(op, err)
	}
	return n
}

// Add returns a + c (same shapes).
func (b *Builder) Add(a, c *gorgonia.Node) *gorgonia.Node {
	return b.binary("add", gorgonia.Add, a, c)
}

// Sub returns a - c (same shapes).
func (b *Builder) Sub(a, c *gorgonia.Node) *gorgonia.Node {
	return b.binary("sub", gorgonia.Sub, a, c)
}

// Mul returns the product: matrix multiplication for matrices, scaling
// when one side is a scalar.
func (b *Builder) Mul(a, c *gorgonia.Node) *gorgonia.Node {
	return b.binary("mul", gorgonia.Mul, a, c)
}

// BMM returns the batched matrix product of two rank-3 nodes.
func (b *Builder) BMM(a, c *gorgonia.Node) *gorgonia.Node {
	return b.binary("batched_matmul", gorgonia.BatchedMatMul, a, c)
}

// Had returns the elementwise product (same shapes).
func (b *Builder) Had(a, c *gorgonia.Node) *gorgonia.Node {
	return b.binary("hadamard", gorgonia.HadamardProd, a, c)
}

// Square returns a^2 elementwise.
func (b *Builder) Square(a *gorgonia.Node) *gorgonia.Node {
	return b.unary("square", gorgonia.Square, a)
}

// Sqrt returns the elementwise square root.
func (b *Builder) Sqrt(a *gorgonia.Node) *gorgonia.Node {
	return b.unary("sqrt", gorgonia.Sqrt, a)
}

// Sin returns the elementwise sine.
func (b *Builder) Sin(a *gorgonia.Node) *gorgonia.Node {
	return b.unary("sin", gorgonia.Sin, a)
}

// Cos returns the elementwise cosine.
func (b *Builder) Cos(a *gorgonia.Node) *gorgonia.Node {
	return b.unary("cos", gorgonia.Cos, a)
}

// Sum reduces over all axes to a scalar.
func (b *Builder) Sum(a *gorgonia.Node) *gorgonia.Node {
	if b.bad(a) {
		return nil
	}
	n, err := gorgonia.Sum(a)
	if err != nil {
		return b.fail("sum", err)
	}
	return n
}

// Mean reduces over all axes to the scalar mean.
func (b *Builder) Mean(a *gorgonia.Node) *gorgonia.Node {
	if b.bad(a) {
		return nil
	}
	n, err := gorgonia.Mean(a)
	if err != nil {
		return b.fail("mean", err)
	}
	return n
}

// Concat joins nodes along axis.
func (b *Builder) Concat(axis int, ns ...*gorgonia.Node) *gorgonia.Node {
	if b.bad(ns...) {
		return nil
	}
	n, err := gorgonia.Concat(axis, ns...)
	if err != nil {
		return b.fail("concat", err)
	}
	return n
}

// Reshape reinterprets a's shape.
func (b *Builder) Reshape(a *gorgonia.Node, shape ...int) *gorgonia.Node {
	if b.bad(a) {
		return nil
	}
	n, err := gorgonia.Reshape(a, tensor.Shape(shape))
	if err != nil {
		return b.fail("reshape", err)
	}
	return n
}

// SliceRows keeps rows [start, end) of a's leading axis.
func (b *Builder) SliceRows(a *gorgonia.Node, start, end int) *gorgonia.Node {
	if b.bad(a) {
		return nil
	}
	n, err := gorgonia.Slice(a, gorgonia.S(start, end))
	if err != nil {
		return b.fail("slice", err)
	}
	return n
}

// BroadcastAddAxis1 returns a + c with c broadcast along axis 1.
func (b *Builder) BroadcastAddAxis1(a, c *gorgonia.Node) *gorgonia.Node {
	if b.bad(a, c) {
		return nil
	}
	n, err := gorgonia.BroadcastAdd(a, c, nil, []byte{1})
	if err != nil {
		return b.fail("broadcast_add", err)
	}
	return n
}

// Read captures a node's value into v on every machine run. Intermediate
// registers may be reused by the tape machine, so diagnostics read their
// values through Read nodes instead of Node.Value.
func (b *Builder) Read(a *gorgonia.Node, v *gorgonia.Value) *gorgonia.Node {
	if b.bad(a) {
		return nil
	}
	return gorgonia.Read(a, v)
}
