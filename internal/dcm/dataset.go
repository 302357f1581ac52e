package dcm

import "sort"

// DataSet is an ordered set of elements, kept sorted by tag as the
// encoding rules require.
type DataSet struct {
	elems []Element
}

// NewDataSet builds a dataset from the given elements.
func NewDataSet(elems ...Element) DataSet {
	var ds DataSet
	for _, e := range elems {
		ds.Set(e)
	}
	return ds
}

// Set inserts or replaces the element with the same tag.
func (ds *DataSet) Set(e Element) {
	i := sort.Search(len(ds.elems), func(i int) bool { return ds.elems[i].Tag >= e.Tag })
	if i < len(ds.elems) && ds.elems[i].Tag == e.Tag {
		ds.elems[i] = e
		return
	}
	ds.elems = append(ds.elems, Element{})
	copy(ds.elems[i+1:], ds.elems[i:])
	ds.elems[i] = e
}

// SetString is shorthand for Set(NewString(t, vals...)).
func (ds *DataSet) SetString(t Tag, vals ...string) {
	ds.Set(NewString(t, vals...))
}

func (ds DataSet) Get(t Tag) (Element, bool) {
	i := sort.Search(len(ds.elems), func(i int) bool { return ds.elems[i].Tag >= t })
	if i < len(ds.elems) && ds.elems[i].Tag == t {
		return ds.elems[i], true
	}
	return Element{}, false
}

// GetString returns the trimmed string value of t, or "" when absent.
func (ds DataSet) GetString(t Tag) string {
	e, ok := ds.Get(t)
	if !ok {
		return ""
	}
	return e.String()
}

func (ds DataSet) Has(t Tag) bool {
	_, ok := ds.Get(t)
	return ok
}

func (ds DataSet) Len() int { return len(ds.elems) }

// Elements returns the elements in tag order. The slice is shared;
// callers must not mutate it.
func (ds DataSet) Elements() []Element { return ds.elems }

// Clone returns a deep copy.
func (ds DataSet) Clone() DataSet {
	out := DataSet{elems: make([]Element, len(ds.elems))}
	for i, e := range ds.elems {
		v := make([]byte, len(e.Value))
		copy(v, e.Value)
		out.elems[i] = Element{Tag: e.Tag, VR: e.VR, Value: v}
	}
	return out
}
