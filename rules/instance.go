package rules

import (
	"context"

	"github.com/lovoo/projector/batch"
	"github.com/lovoo/projector/index"
	"github.com/lovoo/projector/record"
	"github.com/lovoo/projector/state"
)

// RegisterProcessInstanceRules registers the rules of process instance
// records.
func RegisterProcessInstanceRules(reg *Registry) {
	reg.Register(record.KindProcessInstance, record.IntentCreated, RuleFunc(instanceCreated))
	reg.Register(record.KindProcessInstance, record.IntentCompleted, instanceFinished(StateCompleted))
	reg.Register(record.KindProcessInstance, record.IntentCanceled, instanceFinished(StateCanceled))
}

// definitionFields returns the name and version of the process definition or
// the placeholders if it is unknown.
func definitionFields(procs state.Reader, key uint64) (map[string]interface{}, error) {
	def, ok, err := procs.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]interface{}{
			FieldProcessName:    "",
			FieldProcessVersion: 0,
		}, nil
	}
	return map[string]interface{}{
		FieldProcessName:    def.Name,
		FieldProcessVersion: def.Version,
	}, nil
}

func instanceCreated(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
	var value record.ProcessInstanceValue
	if err := decode(rec, &value); err != nil {
		return nil, err
	}

	instances := env.Txn.Table(ProcessInstanceTable)
	procs := env.Txn.Table(ProcessTable)

	existing, ok, err := instances.Get(rec.Key)
	if err != nil {
		return nil, err
	}
	if !ok || !replayed(existing.Position, rec.Position) {
		err := instances.Create(rec.Key, state.Attrs{
			Version: value.Version,
			Attributes: map[string]string{
				FieldBpmnProcessID: value.BpmnProcessID,
				FieldState:         StateActive,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	id := DocID(rec.Key)
	base := map[string]interface{}{
		"key":                     rec.Key,
		FieldProcessDefinitionKey: value.ProcessDefinitionKey,
		FieldBpmnProcessID:        value.BpmnProcessID,
		FieldState:                StateActive,
		FieldStartDate:            timestamp(rec.Timestamp),
		FieldEndDate:              nil,
	}
	if value.ParentProcessInstanceKey != 0 {
		base["parentProcessInstanceKey"] = value.ParentProcessInstanceKey
	}

	fields := func() (map[string]interface{}, error) {
		def, err := definitionFields(procs, value.ProcessDefinitionKey)
		if err != nil {
			return nil, err
		}
		merged := make(map[string]interface{}, len(base)+len(def))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range def {
			merged[k] = v
		}
		return merged, nil
	}

	_, known, err := procs.Get(value.ProcessDefinitionKey)
	if err != nil {
		return nil, err
	}
	if !known {
		// patched when the definition is deployed
		if err := procs.MarkPending(value.ProcessDefinitionKey, ListViewIndex, id); err != nil {
			return nil, err
		}
	}

	doc, err := fields()
	if err != nil {
		return nil, err
	}
	return []batch.Intent{
		batch.Insert(index.Document{ID: id, Index: ListViewIndex, Fields: doc}).WithRefresh(fields),
	}, nil
}

func instanceFinished(finalState string) RuleFunc {
	return func(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
		instances := env.Txn.Table(ProcessInstanceTable)
		existing, ok, err := instances.Get(rec.Key)
		if err != nil {
			return nil, err
		}

		intent := batch.UpdateFields(ListViewIndex, DocID(rec.Key), map[string]interface{}{
			FieldState:   finalState,
			FieldEndDate: timestamp(rec.Timestamp),
		})
		if !ok {
			// the instance was created before the store was, its document may
			// not exist either
			env.Logger.Printf("process instance of %s is unknown, updating its document tolerantly", rec)
			return []batch.Intent{intent.Tolerate()}, nil
		}

		if !replayed(existing.Position, rec.Position) {
			attrs := state.Attrs{
				Name:       existing.Name,
				Version:    existing.Version,
				Attributes: make(map[string]string, len(existing.Attributes)),
			}
			for k, v := range existing.Attributes {
				attrs.Attributes[k] = v
			}
			attrs.Attributes[FieldState] = finalState
			if err := instances.Update(rec.Key, attrs); err != nil {
				return nil, err
			}
		}
		return []batch.Intent{intent}, nil
	}
}
