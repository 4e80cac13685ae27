package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/lovoo/projector/batch"
	"github.com/lovoo/projector/index"
	"github.com/lovoo/projector/record"
	"github.com/lovoo/projector/rules/bpmn"
	"github.com/lovoo/projector/state"
)

// Backfill patches derived documents that were written with placeholder
// fields before the entity they reference was known.
//
// The documents to patch are the union of the documents the index store finds
// with Match and the documents marked pending on the entity in the store.
// Patches are tolerant: a document deleted outside of the projector before the
// patch is applied is skipped.
type Backfill struct {
	// Index of the documents.
	Index string
	// Match selects the documents of entity key that still carry placeholders.
	Match func(key uint64) index.Predicate
	// Patch returns the fields written to every matching document.
	Patch func(e *state.Entity) map[string]interface{}
}

// ListViewBackfill patches the process name and version of list-view
// documents written before their process definition was deployed.
func ListViewBackfill() Backfill {
	return Backfill{
		Index: ListViewIndex,
		Match: func(key uint64) index.Predicate {
			return index.Predicate{
				FieldProcessDefinitionKey: key,
				FieldProcessVersion:       0,
			}
		},
		Patch: func(e *state.Entity) map[string]interface{} {
			return map[string]interface{}{
				FieldProcessName:    e.Name,
				FieldProcessVersion: e.Version,
			}
		},
	}
}

// RegisterDeploymentRules registers the rules of deployment records. Without
// backfills, ListViewBackfill is used.
func RegisterDeploymentRules(reg *Registry, backfills ...Backfill) {
	if len(backfills) == 0 {
		backfills = []Backfill{ListViewBackfill()}
	}
	reg.Register(record.KindDeployment, record.IntentCreated, &deploymentCreated{backfills: backfills})
}

type deploymentCreated struct {
	backfills []Backfill
}

func (d *deploymentCreated) Apply(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
	var value record.DeploymentValue
	if err := decode(rec, &value); err != nil {
		return nil, err
	}

	resources := make(map[string]*record.Resource, len(value.Resources))
	for i := range value.Resources {
		resources[value.Resources[i].Name] = &value.Resources[i]
	}

	procs := env.Txn.Table(ProcessTable)
	var intents []batch.Intent
	for _, meta := range value.ProcessesMetadata {
		doc, attrs := processDefinition(meta, resources[meta.ResourceName])
		key := meta.ProcessDefinitionKey

		existing, ok, err := procs.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok || !replayed(existing.Position, rec.Position) {
			if err := procs.Create(key, attrs); err != nil {
				return nil, err
			}
		}
		intents = append(intents, batch.Insert(doc))

		patches, err := d.backfill(ctx, env, procs, key)
		if err != nil {
			return nil, err
		}
		if len(patches) > 0 {
			env.Logger.Debugf("backfilling %d documents of process definition %d", len(patches), key)
		}
		intents = append(intents, patches...)
	}
	return intents, nil
}

// processDefinition returns the document and the entity of a deployed process.
func processDefinition(meta record.ProcessMetadata, res *record.Resource) (index.Document, state.Attrs) {
	fields := map[string]interface{}{
		"key":              meta.ProcessDefinitionKey,
		FieldBpmnProcessID: meta.BpmnProcessID,
		"version":          meta.Version,
		"resourceName":     meta.ResourceName,
		"name":             "",
	}

	var name string
	if res != nil && res.Type == record.ResourceTypeBpmnXML {
		name = displayName(meta.BpmnProcessID, res.Content)
		fields["name"] = name
		fields["bpmnXml"] = string(res.Content)
	}

	doc := index.Document{
		ID:     DocID(meta.ProcessDefinitionKey),
		Index:  ProcessIndex,
		Fields: fields,
	}
	attrs := state.Attrs{
		Name:    name,
		Version: meta.Version,
		Attributes: map[string]string{
			FieldBpmnProcessID: meta.BpmnProcessID,
			"resourceName":     meta.ResourceName,
		},
	}
	return doc, attrs
}

// displayName prefers the name of the process with the given id and falls
// back to the last named process of the diagram.
func displayName(bpmnProcessID string, content []byte) string {
	if names, err := bpmn.ProcessNames(content); err == nil {
		if name, ok := names[bpmnProcessID]; ok {
			return name
		}
	}
	name, _ := bpmn.ExtractDisplayName(content)
	return name
}

// backfill returns the patches of all backfills for the definition key and
// clears its pending documents.
func (d *deploymentCreated) backfill(ctx context.Context, env *Env, procs state.Mutator, key uint64) ([]batch.Intent, error) {
	pending, err := procs.PendingFor(key)
	if err != nil {
		return nil, err
	}

	var intents []batch.Intent
	for _, bf := range d.backfills {
		targets := make(map[string]struct{})
		for _, p := range pending {
			if p.Index == bf.Index {
				targets[p.ID] = struct{}{}
			}
		}

		ids, err := env.Index.Query(ctx, bf.Index, bf.Match(key))
		if err != nil {
			return nil, fmt.Errorf("error querying %s documents of %d: %w", bf.Index, key, err)
		}
		for _, id := range ids {
			targets[id] = struct{}{}
		}

		sorted := make([]string, 0, len(targets))
		for id := range targets {
			sorted = append(sorted, id)
		}
		sort.Strings(sorted)

		patch := bf.Patch
		refresh := func() (map[string]interface{}, error) {
			e, ok, err := procs.Get(key)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("process definition %d: %w", key, state.ErrNotFound)
			}
			return patch(e), nil
		}

		fields, err := refresh()
		if err != nil {
			return nil, err
		}
		for _, id := range sorted {
			intents = append(intents, batch.UpdateFields(bf.Index, id, fields).WithRefresh(refresh).Tolerate())
		}
	}

	if len(pending) > 0 {
		if err := procs.ClearPending(key); err != nil {
			return nil, err
		}
	}
	return intents, nil
}
