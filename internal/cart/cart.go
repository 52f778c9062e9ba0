package cart

import "strings"

// MaxLineQuantity bounds a single line so merged quantities cannot overflow.
const MaxLineQuantity = 100000

// Line is one product on the order sheet. JSON names follow the persisted
// cart-storage layout.
type Line struct {
	ProductID   string `json:"id"`
	ProductName string `json:"nombreproducto"`
	Quantity    int    `json:"cantidad"`
	Description string `json:"descripcion,omitempty"`
}

// Cart is an ordered list of lines with at most one line per product id.
// Methods return a new Cart and never mutate the receiver, so a caller can
// persist the next value before adopting it.
type Cart struct {
	items []Line
}

// New builds a cart from stored lines, restoring the invariants: names are
// lower-cased, duplicate ids merge and lines below one unit are dropped.
func New(lines []Line) Cart {
	var c Cart
	for _, line := range lines {
		if line.Quantity < 1 || line.ProductID == "" {
			continue
		}
		c = c.AddItem(line)
	}
	return c
}

// AddItem merges by product id, summing quantities, or appends the line.
func (c Cart) AddItem(line Line) Cart {
	if line.Quantity < 1 {
		line.Quantity = 1
	}
	items := c.Items()
	for i := range items {
		if items[i].ProductID == line.ProductID {
			items[i].Quantity += line.Quantity
			return Cart{items: items}
		}
	}
	line.ProductName = strings.ToLower(line.ProductName)
	return Cart{items: append(items, line)}
}

// QuantityOf returns the quantity held for productID, or zero.
func (c Cart) QuantityOf(productID string) int {
	for _, line := range c.items {
		if line.ProductID == productID {
			return line.Quantity
		}
	}
	return 0
}

func (c Cart) RemoveItem(productID string) Cart {
	items := make([]Line, 0, len(c.items))
	for _, line := range c.items {
		if line.ProductID != productID {
			items = append(items, line)
		}
	}
	return Cart{items: items}
}

// UpdateQuantity sets the quantity of an existing line. A quantity below one
// removes the line; unknown ids are a no-op.
func (c Cart) UpdateQuantity(productID string, quantity int) Cart {
	if quantity < 1 {
		return c.RemoveItem(productID)
	}
	items := c.Items()
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity = quantity
		}
	}
	return Cart{items: items}
}

func (c Cart) Clear() Cart {
	return Cart{}
}

// Items returns a copy of the lines in insertion order.
func (c Cart) Items() []Line {
	out := make([]Line, len(c.items))
	copy(out, c.items)
	return out
}

func (c Cart) Len() int {
	return len(c.items)
}

func (c Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c Cart) TotalQuantity() int {
	total := 0
	for _, line := range c.items {
		total += line.Quantity
	}
	return total
}

// Has reports whether a line for productID exists.
func (c Cart) Has(productID string) bool {
	for _, line := range c.items {
		if line.ProductID == productID {
			return true
		}
	}
	return false
}
