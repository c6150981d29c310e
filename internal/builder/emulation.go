package builder

import (
	"fmt"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/graph"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

// emulatedDependents lists the relations whose on-update action the builder
// must emulate when writes are applied to records of model.
func (b *build) emulatedDependents(model *catalog.Model, writes query.WriteArgs) []*catalog.RelationField {
	if !b.catalog.EmulatesReferentialActions() || len(writes) == 0 {
		return nil
	}
	var out []*catalog.RelationField
	for _, dep := range b.catalog.DependentRelations(model.Name) {
		if !writes.Touches(dep.References) {
			continue
		}
		if dep.EffectiveOnUpdate() == catalog.SetDefault {
			continue
		}
		out = append(out, dep)
	}
	return out
}

func (b *build) needsEmulation(model *catalog.Model, writes query.WriteArgs) bool {
	return len(b.emulatedDependents(model, writes)) > 0
}

// insertEmulatedOnUpdate adds, for each dependent relation whose referenced
// fields the update changes, a subgraph that runs between read and update.
// read must produce the pre-update state of the records being updated; with
// last set only its last row is the update target.
func (b *build) insertEmulatedOnUpdate(read, update graph.NodeID, model *catalog.Model, writes query.WriteArgs, last bool) error {
	for _, dep := range b.emulatedDependents(model, writes) {
		var err error
		switch dep.EffectiveOnUpdate() {
		case catalog.Restrict, catalog.NoAction:
			err = b.emulateRestrict(read, update, model, dep, last)
		case catalog.Cascade:
			err = b.emulateCascade(read, update, dep, writes, last)
		case catalog.SetNull:
			err = b.emulateSetNull(read, update, dep, last)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func scopeDependents(dep *catalog.RelationField, last bool) graph.ProjectedData {
	return graph.ProjectedData{
		Identifier: dep.References,
		Transform:  graph.ScopeByParent{ChildFields: dep.Fields, Last: last},
	}
}

// emulateRestrict fails the update when any dependent record still points
// at the old values:
//
//	read -> find dependents -> CheckEmpty -> update
func (b *build) emulateRestrict(read, update graph.NodeID, model *catalog.Model, dep *catalog.RelationField, last bool) error {
	dependent := dep.Model()
	find, err := b.query(query.ManyRecordsQuery{
		Name:   "findDependents",
		Model:  dependent,
		Filter: query.Empty{},
		Fields: query.Fields(dependent.PrimaryIdentifier()...),
	})
	if err != nil {
		return err
	}
	if err := b.edge(read, find, scopeDependents(dep, last)); err != nil {
		return err
	}
	check, err := b.node(graph.FlowNode{Flow: graph.CheckEmpty{
		Model:    dependent.Name,
		Relation: dep.RelationName,
		Message: fmt.Sprintf("The change you are trying to make would violate the required relation '%s' between the `%s` and `%s` models.",
			dep.RelationName, dependent.Name, model.Name),
	}})
	if err != nil {
		return err
	}
	if err := b.edge(find, check, graph.ProjectedData{Identifier: dependent.PrimaryIdentifier(), Transform: graph.SetCheckCount{}}); err != nil {
		return err
	}
	return b.edge(check, update, graph.ExecutionOrder{})
}

// emulateCascade rewrites the dependents' foreign keys to the new values:
//
//	read -> UpdateManyRecords(dependents) -> update
func (b *build) emulateCascade(read, update graph.NodeID, dep *catalog.RelationField, writes query.WriteArgs, last bool) error {
	var data []query.FieldWrite
	for i, ref := range dep.References {
		fw, ok := writes.Get(ref)
		if !ok {
			continue
		}
		if fw.Op != query.WriteSet {
			return qerr.Input("cannot cascade a %s of %s.%s to %s.%s; set the new value explicitly",
				fw.Op, dep.Related().Name, ref, dep.Model().Name, dep.Fields[i]).
				OnModel(dep.Related().Name).OnRelation(dep.RelationName).OnField(ref)
		}
		data = append(data, query.FieldWrite{Field: dep.Fields[i], Op: query.WriteSet, Value: fw.Value})
	}
	return b.updateDependents(read, update, dep, query.NewWriteArgs(data...), last)
}

// emulateSetNull clears the dependents' foreign keys:
//
//	read -> UpdateManyRecords(dependents) -> update
func (b *build) emulateSetNull(read, update graph.NodeID, dep *catalog.RelationField, last bool) error {
	data := make([]query.FieldWrite, len(dep.Fields))
	for i, f := range dep.Fields {
		data[i] = query.FieldWrite{Field: f, Op: query.WriteSet, Value: value.Null{}}
	}
	return b.updateDependents(read, update, dep, query.NewWriteArgs(data...), last)
}

func (b *build) updateDependents(read, update graph.NodeID, dep *catalog.RelationField, data query.WriteArgs, last bool) error {
	um, err := b.query(query.UpdateManyRecords{Model: dep.Model(), RecordFilter: query.EmptyRecordFilter(), Data: data})
	if err != nil {
		return err
	}
	if err := b.edge(read, um, scopeDependents(dep, last)); err != nil {
		return err
	}
	return b.edge(um, update, graph.ExecutionOrder{})
}
