// Package rules maps records to mutations of the keyed entity store and to
// document write intents.
//
// A rule is selected by the kind and intent of a record. It stages its store
// mutations in the transaction of the environment and returns the document
// writes that have to be accepted by the index store before the transaction
// is committed. Rules must be idempotent: applying a record whose effects are
// already committed must not change the store and must emit writes that do
// not change the documents either.
package rules

import (
	"context"
	"fmt"

	"github.com/lovoo/projector/batch"
	"github.com/lovoo/projector/index"
	"github.com/lovoo/projector/logger"
	"github.com/lovoo/projector/record"
	"github.com/lovoo/projector/state"
)

// Env is the environment a rule is applied in.
type Env struct {
	// Txn stages the store mutations of the record.
	Txn *state.Txn
	// Index is used for backfill queries. Rules never write to it directly.
	Index index.Store
	// Logger is prefixed with the partition.
	Logger logger.Logger
}

// Rule applies records of one kind and intent.
type Rule interface {
	Apply(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error)
}

// RuleFunc adapts a function to a Rule.
type RuleFunc func(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error)

// Apply calls f.
func (f RuleFunc) Apply(ctx context.Context, env *Env, rec *record.Record) ([]batch.Intent, error) {
	return f(ctx, env, rec)
}

type ruleKey struct {
	kind   record.Kind
	intent record.Intent
}

// Registry holds the rules by kind and intent.
type Registry struct {
	rules map[ruleKey]Rule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[ruleKey]Rule)}
}

// Register sets the rule for kind and intent, replacing a previous one.
func (r *Registry) Register(kind record.Kind, intent record.Intent, rule Rule) *Registry {
	r.rules[ruleKey{kind, intent}] = rule
	return r
}

// Lookup returns the rule for kind and intent.
func (r *Registry) Lookup(kind record.Kind, intent record.Intent) (Rule, bool) {
	rule, ok := r.rules[ruleKey{kind, intent}]
	return rule, ok
}

// Apply applies the matching rule to rec. Records without a rule have no
// effect. A panicking rule fails the record with a MalformedRecordError.
func (r *Registry) Apply(ctx context.Context, env *Env, rec *record.Record) (intents []batch.Intent, err error) {
	rule, ok := r.Lookup(rec.Kind, rec.Intent)
	if !ok {
		env.Logger.Debugf("no rule for %s, skipping", rec)
		return nil, nil
	}

	defer func() {
		if x := recover(); x != nil {
			intents = nil
			err = &MalformedRecordError{
				Record: rec,
				Err:    fmt.Errorf("panic: %v", x),
				Stack:  userStacktrace(),
			}
		}
	}()
	return rule.Apply(ctx, env, rec)
}

// Default returns a registry with the group, deployment and process instance
// rules. The backfills are applied whenever a process definition is created.
func Default(backfills ...Backfill) *Registry {
	reg := NewRegistry()
	RegisterGroupRules(reg)
	RegisterDeploymentRules(reg, backfills...)
	RegisterProcessInstanceRules(reg)
	return reg
}
