package embedding

// Index is the embedding matrix over the knowledge base, or the explicit
// "no index" sentinel when the corpus is empty. The zero value is absent;
// a present index always came from embedding at least one text. Keeping
// these as distinct states stops callers from confusing an empty corpus
// with an uninitialized one.
type Index struct {
	rows    [][]float32
	present bool
}

// NewIndex wraps an embedding matrix. Rows must already be normalized and
// ordered to match the chunk sequence they were built from.
func NewIndex(rows [][]float32) Index {
	return Index{rows: rows, present: true}
}

// Present reports whether an index exists at all.
func (ix Index) Present() bool { return ix.present }

// Len is the number of rows; zero when absent.
func (ix Index) Len() int { return len(ix.rows) }

// Row returns the i-th embedding vector. Callers must not modify it.
func (ix Index) Row(i int) []float32 { return ix.rows[i] }
