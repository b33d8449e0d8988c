package expr

// Order sorts results by an expression
type Order struct {
	Expression Expression
	Ascending  bool
}

// Asc orders by e, smallest first
func Asc(e Expression) Order {
	return Order{Expression: e, Ascending: true}
}

// Desc orders by e, largest first
func Desc(e Expression) Order {
	return Order{Expression: e}
}

// Reverse returns the order with its direction flipped
func (o Order) Reverse() Order {
	return Order{Expression: o.Expression, Ascending: !o.Ascending}
}

// Direction returns ASC or DESC
func (o Order) Direction() string {
	if o.Ascending {
		return "ASC"
	}
	return "DESC"
}
