package catalog

import (
	"sort"
	"sync/atomic"
)

// snapshot is an immutable collection of all catalog entries indexed by ID.
// Product steps are pre-joined against their step definitions and sorted by
// position so no call site has to normalize the relation itself.
type snapshot struct {
	products     map[string]Product
	steps        map[string]Step
	docTypes     map[string]DocumentType
	productSteps map[string][]ProductStep // product ID -> ordered steps
}

// Registry is a read-optimized, thread-safe store of the loaded catalog.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []Definition) {
	s := &snapshot{
		products:     make(map[string]Product),
		steps:        make(map[string]Step),
		docTypes:     make(map[string]DocumentType),
		productSteps: make(map[string][]ProductStep),
	}

	for _, def := range defs {
		for _, st := range def.Steps {
			s.steps[st.Code] = st
		}
		for _, dt := range def.DocumentTypes {
			s.docTypes[dt.ID] = dt
		}
		for _, p := range def.Products {
			s.products[p.ID] = p
			ordered := make([]ProductStep, len(p.Steps))
			copy(ordered, p.Steps)
			sort.SliceStable(ordered, func(i, j int) bool {
				return ordered[i].Position < ordered[j].Position
			})
			s.productSteps[p.ID] = ordered
		}
	}

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// ProductCount returns the number of loaded products. Zero means the catalog
// is empty and the service is not ready to take traffic.
func (r *Registry) ProductCount() int {
	return len(r.current().products)
}

// GetProduct returns the product with the given ID.
func (r *Registry) GetProduct(id string) (Product, bool) {
	p, ok := r.current().products[id]
	return p, ok
}

// GetStep returns the step with the given code.
func (r *Registry) GetStep(code string) (Step, bool) {
	s, ok := r.current().steps[code]
	return s, ok
}

// GetDocumentType returns the document type with the given ID.
func (r *Registry) GetDocumentType(id string) (DocumentType, bool) {
	dt, ok := r.current().docTypes[id]
	return dt, ok
}

// ProductSteps returns the product's steps ordered by position.
func (r *Registry) ProductSteps(productID string) []ProductStep {
	return r.current().productSteps[productID]
}

// ProductStepFor returns the product-step binding for the given step within
// a product, along with its index in the ordered sequence.
func (r *Registry) ProductStepFor(productID, stepCode string) (ProductStep, int, bool) {
	for i, ps := range r.current().productSteps[productID] {
		if ps.StepCode == stepCode {
			return ps, i, true
		}
	}
	return ProductStep{}, 0, false
}

// NextStep returns the product step following the given step code in product
// order, or false if the step is the last one (or unknown).
func (r *Registry) NextStep(productID, stepCode string) (ProductStep, bool) {
	steps := r.current().productSteps[productID]
	for i, ps := range steps {
		if ps.StepCode == stepCode && i+1 < len(steps) {
			return steps[i+1], true
		}
	}
	return ProductStep{}, false
}

// FirstStep returns the first step of the product's sequence.
func (r *Registry) FirstStep(productID string) (ProductStep, bool) {
	steps := r.current().productSteps[productID]
	if len(steps) == 0 {
		return ProductStep{}, false
	}
	return steps[0], true
}

// StepRequiresDocument reports whether the step declares the document type.
func (r *Registry) StepRequiresDocument(stepCode, docTypeID string) bool {
	st, ok := r.GetStep(stepCode)
	if !ok {
		return false
	}
	for _, dt := range st.DocumentTypes {
		if dt == docTypeID {
			return true
		}
	}
	return false
}
