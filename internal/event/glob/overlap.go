package glob

// Overlaps reports whether at least one string matches both patterns.
func Overlaps(a, b string) bool {
	if a == All || b == All {
		return true
	}
	if IsLiteral(a) {
		return Match(b, a)
	}
	if IsLiteral(b) {
		return Match(a, b)
	}

	o := overlap{
		p:    []rune(a),
		q:    []rune(b),
		seen: make(map[[2]int]bool),
	}
	return o.at(0, 0)
}

// overlap walks both patterns at once. A star on either side may absorb any
// single token of the other pattern, including another star.
type overlap struct {
	p, q []rune
	seen map[[2]int]bool
}

func (o *overlap) at(i, j int) bool {
	key := [2]int{i, j}
	if v, ok := o.seen[key]; ok {
		return v
	}
	v := o.step(i, j)
	o.seen[key] = v
	return v
}

func (o *overlap) step(i, j int) bool {
	pEnd, qEnd := i == len(o.p), j == len(o.q)
	if pEnd && qEnd {
		return true
	}

	if !pEnd && o.p[i] == Any {
		if o.at(i+1, j) {
			return true
		}
		if !qEnd && o.at(i, j+1) {
			return true
		}
	}
	if !qEnd && o.q[j] == Any {
		if o.at(i, j+1) {
			return true
		}
		if !pEnd && o.at(i+1, j) {
			return true
		}
	}
	if pEnd || qEnd || o.p[i] == Any || o.q[j] == Any {
		return false
	}

	if o.p[i] == One || o.q[j] == One || o.p[i] == o.q[j] {
		return o.at(i+1, j+1)
	}
	return false
}
