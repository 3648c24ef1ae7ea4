package ds

// FilterOp describes a comparison applied to a property when querying.
type FilterOp string

const (
	EqualOp            FilterOp = "="
	LessThanOp         FilterOp = "<"
	LessThanEqualOp    FilterOp = "<="
	GreaterThanOp      FilterOp = ">"
	GreaterThanEqualOp FilterOp = ">="

	// ExistsOp matches entities that have any value for the property.
	ExistsOp FilterOp = "exists"
)

// Filter constrains a query to entities whose property compares true
// against Value. Value is ignored for ExistsOp.
type Filter struct {
	Name  string
	Op    FilterOp
	Value interface{}
}

// OrderDir selects the direction query results are returned in.
type OrderDir string

const (
	AscDir  OrderDir = "asc"
	DescDir OrderDir = "desc"
)

// Order sorts query results by a property.
type Order struct {
	Name string
	Dir  OrderDir
}

// Query describes a kind-scoped lookup over stored entities.
//
// Limit caps the number of returned entities; backends additionally cap
// result sets at an implementation limit. A Limit of zero means no caller
// limit. Offset skips results after ordering.
type Query struct {
	Kind     string
	Filters  []Filter
	Orders   []Order
	Offset   int
	Limit    int
	KeysOnly bool
}
