package frame

// Reducer collapses the values of one column across several rows into one.
type Reducer func(vals []Value) Value

// ReducerFor returns the reduction attached to a kind: numeric columns are
// averaged over their non-null values, every other kind keeps the first
// non-null value.
func ReducerFor(k Kind) Reducer {
	if k == Numeric {
		return mean
	}
	return firstNonNull(k)
}

func mean(vals []Value) Value {
	var sum float64
	var n int
	for _, v := range vals {
		if f, ok := v.Float(); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return Null(Numeric)
	}
	return Num(sum / float64(n))
}

func firstNonNull(k Kind) Reducer {
	return func(vals []Value) Value {
		for _, v := range vals {
			if !v.IsNull() {
				return v
			}
		}
		return Null(k)
	}
}
