package vectorstore

import (
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/qdrant/go-client/qdrant"
)

// fields returns the filter's non-empty fields in a stable order.
func (f Filter) fields() []string {
	names := make([]string, 0, len(f))
	for name, values := range f {
		if len(values) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (f Filter) qdrantFilter() *qdrant.Filter {
	if f.Empty() {
		return nil
	}

	var must []*qdrant.Condition
	for _, name := range f.fields() {
		must = append(must, qdrant.NewMatchKeywords(name, f[name]...))
	}
	return &qdrant.Filter{Must: must}
}

// bleveQuery ANDs base with one disjunction of term matches per field.
func (f Filter) bleveQuery(base query.Query) query.Query {
	if f.Empty() {
		return base
	}

	conjuncts := []query.Query{base}
	for _, name := range f.fields() {
		var terms []query.Query
		for _, v := range f[name] {
			tq := bleve.NewTermQuery(v)
			tq.SetField(name)
			terms = append(terms, tq)
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(terms...))
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}
