package tagstruct

// PropList is an ordered set of string-keyed, binary-valued properties
// (stream/client/sink metadata such as application name or icon). Order is
// preserved across encode/decode so callers relying on insertion order
// (e.g. first-match lookups) observe consistent behavior.
type PropList struct {
	Keys   []string
	Values [][]byte
}

// Get returns the value for key and whether it was present.
func (p PropList) Get(key string) ([]byte, bool) {
	for i, k := range p.Keys {
		if k == key {
			return p.Values[i], true
		}
	}
	return nil, false
}

// Set adds or replaces the value for key.
func (p *PropList) Set(key string, value []byte) {
	for i, k := range p.Keys {
		if k == key {
			p.Values[i] = value
			return
		}
	}
	p.Keys = append(p.Keys, key)
	p.Values = append(p.Values, value)
}

// PutPropList appends a property list: repeated (STRING key, U32 length,
// ARBITRARY value) triples terminated by STRING_NULL.
func (w *Writer) PutPropList(p PropList) {
	w.putTag(TagPropList)
	w.putPropListBody(p)
}

func (w *Writer) putPropListBody(p PropList) {
	for i, k := range p.Keys {
		w.PutString(k)
		w.PutU32(uint32(len(p.Values[i])))
		w.PutArbitrary(p.Values[i])
	}
	w.PutStringNull()
}

// GetPropList reads a property list.
func (r *Reader) GetPropList() (PropList, error) {
	if err := r.expectTag("decode.proplist.tag", TagPropList); err != nil {
		return PropList{}, err
	}
	return r.getPropListBody()
}

func (r *Reader) getPropListBody() (PropList, error) {
	var p PropList
	for {
		key, ok, err := r.GetString()
		if err != nil {
			return PropList{}, err
		}
		if !ok {
			return p, nil
		}
		if _, err := r.GetU32(); err != nil { // declared length, redundant with ARBITRARY's own prefix
			return PropList{}, err
		}
		val, err := r.GetArbitrary()
		if err != nil {
			return PropList{}, err
		}
		p.Set(key, val)
	}
}
