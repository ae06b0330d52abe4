package symbols

// BiMap is the original <-> vendor symbol mapping of one batch. Several
// originals may resolve to the same vendor symbol ("AAPL" and "AAPL US").
type BiMap struct {
	toVendor   map[string]string
	toOriginal map[string][]string
	order      []string
}

// NewBiMap resolves every original once with to.
func NewBiMap(originals []string, to func(string) string) *BiMap {
	m := &BiMap{
		toVendor:   make(map[string]string, len(originals)),
		toOriginal: make(map[string][]string, len(originals)),
	}
	for _, o := range originals {
		m.Add(o, to(o))
	}
	return m
}

// Add records one pair. Re-adding a known original is a no-op.
func (m *BiMap) Add(original, vendor string) {
	if _, ok := m.toVendor[original]; ok {
		return
	}
	m.toVendor[original] = vendor
	if _, seen := m.toOriginal[vendor]; !seen {
		m.order = append(m.order, vendor)
	}
	m.toOriginal[vendor] = append(m.toOriginal[vendor], original)
}

func (m *BiMap) Vendor(original string) (string, bool) {
	v, ok := m.toVendor[original]
	return v, ok
}

func (m *BiMap) Originals(vendor string) []string {
	return m.toOriginal[vendor]
}

// VendorSymbols returns the distinct vendor symbols in insertion order.
func (m *BiMap) VendorSymbols() []string {
	return append([]string(nil), m.order...)
}

func (m *BiMap) Len() int { return len(m.toVendor) }
