/*package eq is a simple package for telling whether two arrays are equal to
one another. It exists so tests can compare face-level tables and field
payloads without dragging in a full assertion library.*/
package eq

// Ints returns true if two []int arrays are the same and false otherwise.
func Ints(x, y []int) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Bytes returns true if two []byte arrays are the same and false otherwise.
func Bytes(x, y []byte) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Float64s returns true if two []float64 arrays are the same and false
// otherwise.
func Float64s(x, y []float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Float64sEps returns true if two []float64 arrays are the same to within eps
// and false otherwise.
func Float64sEps(x, y []float64, eps float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		d := x[i] - y[i]
		if d > eps || -d > eps { return false }
	}
	return true
}
