// Package resource expands stored resources into the instances they contain.
package resource

import (
	"context"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/logger"
)

// lookupOrder is the order in which an opaque identifier is tried against
// the hierarchy, most specific level first.
var lookupOrder = []dicomweb.ResourceLevel{
	dicomweb.LevelInstance,
	dicomweb.LevelSeries,
	dicomweb.LevelStudy,
	dicomweb.LevelPatient,
}

// Resolver expands resource selectors against an instance store.
type Resolver struct {
	Store dicomweb.InstanceStore
}

// NewResolver returns a new instance of Resolver.
func NewResolver(store dicomweb.InstanceStore) *Resolver {
	return &Resolver{Store: store}
}

// Expand returns the ids of the instances contained in the selected
// resource, in store order.
//
// Returns EINVALID for an empty identifier or an unusable store record and
// ENOTFOUND if no level knows the identifier.
func (r *Resolver) Expand(ctx context.Context, sel dicomweb.ResourceSelector) ([]string, error) {
	if sel.ID == "" {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "empty resource identifier")
	}

	levels := lookupOrder
	if sel.Level != dicomweb.LevelAny {
		levels = []dicomweb.ResourceLevel{sel.Level}
	}

	for _, level := range levels {
		ok, err := r.Store.ResourceExists(ctx, level, sel.ID)
		if err != nil {
			return nil, err
		} else if !ok {
			continue
		}

		records, err := r.Store.ListInstances(ctx, level, sel.ID)
		if err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(records))
		for i, rec := range records {
			if rec == nil || rec.ID == "" {
				return nil, dicomweb.Errorf(dicomweb.EINVALID, "child %d of %s %s has no instance id", i, level, sel.ID)
			}
			ids = append(ids, rec.ID)
		}

		logger.Ctx(ctx).Debug().
			Str("resource", sel.ID).
			Stringer("level", level).
			Int("instances", len(ids)).
			Msg("resolved resource")
		return ids, nil
	}

	return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "unknown resource: %s", sel.ID)
}

// ExpandAll expands every identifier, trying all levels, and concatenates
// the results in input order.
func (r *Resolver) ExpandAll(ctx context.Context, ids []string) ([]string, error) {
	var instances []string
	for _, id := range ids {
		children, err := r.Expand(ctx, dicomweb.ResourceSelector{Level: dicomweb.LevelAny, ID: id})
		if err != nil {
			return nil, err
		}
		instances = append(instances, children...)
	}
	return instances, nil
}
