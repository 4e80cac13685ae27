package rules

import (
	"context"
	"errors"
	"sort"

	"github.com/lovoo/projector/batch"
	"github.com/lovoo/projector/index"
	"github.com/lovoo/projector/record"
	"github.com/lovoo/projector/state"
)

// RegisterGroupRules registers the rules of group records.
func RegisterGroupRules(reg *Registry) {
	reg.Register(record.KindGroup, record.IntentCreated, RuleFunc(groupCreated))
	reg.Register(record.KindGroup, record.IntentUpdated, RuleFunc(groupUpdated))
	reg.Register(record.KindGroup, record.IntentEntityAdded, RuleFunc(groupEntityAdded))
	reg.Register(record.KindGroup, record.IntentEntityRemoved, RuleFunc(groupEntityRemoved))
	reg.Register(record.KindGroup, record.IntentDeleted, RuleFunc(groupDeleted))
}

func groupDocument(value *record.GroupValue) index.Document {
	return index.Document{
		ID:    DocID(value.GroupKey),
		Index: GroupIndex,
		Fields: map[string]interface{}{
			"key":  value.GroupKey,
			"name": value.Name,
		},
	}
}

func groupCreated(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
	var value record.GroupValue
	if err := decode(rec, &value); err != nil {
		return nil, err
	}

	groups := env.Txn.Table(GroupTable)
	existing, ok, err := groups.Get(value.GroupKey)
	if err != nil {
		return nil, err
	}
	if !ok || !replayed(existing.Position, rec.Position) {
		if err := groups.Create(value.GroupKey, state.Attrs{Name: value.Name}); err != nil {
			return nil, err
		}
	}
	return []batch.Intent{batch.Insert(groupDocument(&value))}, nil
}

func groupUpdated(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
	var value record.GroupValue
	if err := decode(rec, &value); err != nil {
		return nil, err
	}

	groups := env.Txn.Table(GroupTable)
	existing, ok, err := groups.Get(value.GroupKey)
	if err != nil {
		return nil, err
	}
	if !ok || !replayed(existing.Position, rec.Position) {
		attrs := state.Attrs{Name: value.Name}
		if ok {
			attrs.Version = existing.Version
			attrs.Attributes = existing.Attributes
		}
		// fails with state.ErrNotFound for unknown groups
		if err := groups.Update(value.GroupKey, attrs); err != nil {
			return nil, err
		}
	}
	return []batch.Intent{
		batch.UpdateFields(GroupIndex, DocID(value.GroupKey), map[string]interface{}{"name": value.Name}),
	}, nil
}

func groupEntityAdded(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
	var value record.GroupValue
	if err := decode(rec, &value); err != nil {
		return nil, err
	}

	groups := env.Txn.Table(GroupTable)
	existing, ok, err := groups.Get(value.GroupKey)
	if err != nil {
		return nil, err
	}
	if !ok || !replayed(existing.Position, rec.Position) {
		if err := groups.AddMembership(value.GroupKey, value.EntityKey, state.MemberType(value.EntityType)); err != nil {
			return nil, err
		}
	}
	return []batch.Intent{batch.Insert(index.Document{
		ID:    MemberDocID(value.GroupKey, value.EntityKey),
		Index: GroupMemberIndex,
		Fields: map[string]interface{}{
			"groupKey":   value.GroupKey,
			"entityKey":  value.EntityKey,
			"entityType": string(value.EntityType),
		},
	})}, nil
}

func groupEntityRemoved(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
	var value record.GroupValue
	if err := decode(rec, &value); err != nil {
		return nil, err
	}

	groups := env.Txn.Table(GroupTable)
	existing, ok, err := groups.Get(value.GroupKey)
	if err != nil {
		return nil, err
	}
	if !ok || !replayed(existing.Position, rec.Position) {
		if err := groups.RemoveMembership(value.GroupKey, value.EntityKey, state.MemberType(value.EntityType)); err != nil {
			return nil, err
		}
	}
	return []batch.Intent{batch.Delete(GroupMemberIndex, MemberDocID(value.GroupKey, value.EntityKey))}, nil
}

func groupDeleted(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
	var value record.GroupValue
	if err := decode(rec, &value); err != nil {
		return nil, err
	}

	groups := env.Txn.Table(GroupTable)
	members, err := groups.GetMembershipByType(value.GroupKey)
	if err != nil {
		return nil, err
	}

	types := make([]string, 0, len(members))
	for typ := range members {
		types = append(types, string(typ))
	}
	sort.Strings(types)

	intents := make([]batch.Intent, 0, 1+len(members))
	for _, typ := range types {
		for _, member := range members[state.MemberType(typ)] {
			intents = append(intents, batch.Delete(GroupMemberIndex, MemberDocID(value.GroupKey, member)))
		}
	}
	intents = append(intents, batch.Delete(GroupIndex, DocID(value.GroupKey)))

	// a group that is already gone was deleted by a replayed record
	err = groups.Delete(value.GroupKey)
	if errors.Is(err, state.ErrNotFound) {
		env.Logger.Printf("group %d of %s does not exist anymore, only deleting documents", value.GroupKey, rec)
		return intents, nil
	}
	if err != nil {
		return nil, err
	}
	return intents, nil
}
