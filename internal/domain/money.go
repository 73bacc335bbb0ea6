package domain

import "fmt"

// Money is an amount in integer cents. Monetary values never touch floats.
type Money int64

func (m Money) Cents() int64 { return int64(m) }

func (m Money) String() string {
	neg := ""
	v := int64(m)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", neg, v/100, v%100)
}

// ApplyBasisPoints returns m scaled by bp/10000, truncated toward zero.
// Used for tax rates and hotel revenue shares (both 0..10000).
func (m Money) ApplyBasisPoints(bp int) Money {
	return Money(int64(m) * int64(bp) / 10000)
}
