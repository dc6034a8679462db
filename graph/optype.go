package graph

// OpType enumerates the operations a graph node can perform.
type OpType int

const (
	OpInvalid OpType = iota
	OpParameter
	OpConstant

	// Unary element-wise ops.
	OpNeg
	OpAbs
	OpExp
	OpSigmoid

	// Binary element-wise ops: operands must have unifiable shapes, or one
	// of them may be a scalar.
	OpAdd
	OpSub
	OpMul

	// Structural ops.
	OpReduceSum
	OpReshape
	OpMatMul
)

var opTypeNames = map[OpType]string{
	OpInvalid:   "Invalid",
	OpParameter: "Parameter",
	OpConstant:  "Constant",
	OpNeg:       "Neg",
	OpAbs:       "Abs",
	OpExp:       "Exp",
	OpSigmoid:   "Sigmoid",
	OpAdd:       "Add",
	OpSub:       "Sub",
	OpMul:       "Mul",
	OpReduceSum: "ReduceSum",
	OpReshape:   "Reshape",
	OpMatMul:    "MatMul",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if name, found := opTypeNames[op]; found {
		return name
	}
	return "Invalid"
}
