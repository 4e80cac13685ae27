package state

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/lovoo/projector/codec"
)

// keyCodec encodes the entity keys stored in the name and membership entries.
var keyCodec = new(codec.Uint64)

func encodeKey(key uint64) []byte {
	data, _ := keyCodec.Encode(key)
	return data
}

func decodeKey(data []byte) (uint64, error) {
	key, err := keyCodec.Decode(data)
	if err != nil {
		return 0, err
	}
	return key.(uint64), nil
}

// MemberType is the type of a member in the membership index.
type MemberType string

// Entity is an entity of the store.
type Entity struct {
	Key        uint64            `json:"key"`
	Name       string            `json:"name"`
	Version    int               `json:"version,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	// Position is the position of the last record that mutated the entity.
	Position uint64 `json:"position"`
}

// Attrs are the mutable fields of an entity.
type Attrs struct {
	Name       string
	Version    int
	Attributes map[string]string
}

// Pending is a derived document that was written with placeholder fields and
// waits for an entity to be created.
type Pending struct {
	Index string `json:"index"`
	ID    string `json:"id"`
}

// Reader is the read-only query surface of a table.
type Reader interface {
	// Get returns the entity with key.
	Get(key uint64) (*Entity, bool, error)
	// GetKeyByName returns the key of the entity currently owning name.
	GetKeyByName(name string) (uint64, bool, error)
	// GetMembershipByType returns the members of the entity grouped by type in
	// insertion order.
	GetMembershipByType(key uint64) (map[MemberType][]uint64, error)
	// GetMemberType returns the type of the first membership of memberKey.
	GetMemberType(key, memberKey uint64) (MemberType, bool, error)
	// PendingFor returns the documents waiting for the entity foreignKey.
	PendingFor(foreignKey uint64) ([]Pending, error)
}

// Mutator mutates a table inside a transaction.
type Mutator interface {
	Reader
	// Create inserts a new entity. It fails with ErrDuplicateKey if the key
	// exists. If another entity owns the name, the new entity takes it over.
	Create(key uint64, attrs Attrs) error
	// Update replaces the fields of an entity and moves its name index entry.
	// It fails with ErrNotFound if the entity does not exist.
	Update(key uint64, attrs Attrs) error
	// Delete removes an entity and all of its index entries. It fails with
	// ErrNotFound if the entity does not exist.
	Delete(key uint64) error
	// AddMembership appends memberKey to the members of type memberType. The
	// same member may be added multiple times.
	AddMembership(key, memberKey uint64, memberType MemberType) error
	// RemoveMembership removes every occurrence of memberKey with memberType.
	RemoveMembership(key, memberKey uint64, memberType MemberType) error
	// MarkPending records that document id of index waits for foreignKey.
	MarkPending(foreignKey uint64, index, id string) error
	// ClearPending removes all pending documents of foreignKey.
	ClearPending(foreignKey uint64) error
	// Touch stamps the entity with the position of the transaction without
	// changing its fields.
	Touch(key uint64) error
}

// row is the stored representation of an entity.
type row struct {
	Entity
	// MemberSeq is the sequence number of the last membership entry.
	MemberSeq uint64 `json:"memberSeq,omitempty"`
}

// Table is a namespace of the store.
type Table struct {
	ns       string
	kv       kv
	position uint64
}

func newTable(ns string, kv kv, position uint64) *Table {
	if ns == "" || strings.Contains(ns, "/") {
		log.Panicf("invalid table namespace %q", ns)
	}
	return &Table{ns: ns, kv: kv, position: position}
}

// keys are laid out as
//   <ns>/e/<key>                   entity row
//   <ns>/n/<name>                  key owning name
//   <ns>/m/<key>/<type>/<seq>      member key
//   <ns>/p/<foreignKey>/<index>/<id> pending document
// with fixed-width hex numbers so that keys sort numerically.

func hex(v uint64) string {
	return fmt.Sprintf("%016x", v)
}

func (t *Table) entityKey(key uint64) string {
	return t.ns + "/e/" + hex(key)
}

func (t *Table) nameKey(name string) string {
	return t.ns + "/n/" + name
}

func (t *Table) memberPrefix(key uint64) string {
	return t.ns + "/m/" + hex(key) + "/"
}

func (t *Table) pendingPrefix(foreignKey uint64) string {
	return t.ns + "/p/" + hex(foreignKey) + "/"
}

func (t *Table) getRow(key uint64) (*row, error) {
	data, err := t.kv.get(t.entityKey(key))
	if err != nil {
		return nil, fmt.Errorf("error reading %s entity %d: %w", t.ns, key, err)
	}
	if data == nil {
		return nil, nil
	}
	r := new(row)
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("error decoding %s entity %d: %w", t.ns, key, err)
	}
	return r, nil
}

func (t *Table) putRow(r *row) error {
	r.Position = t.position
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("error encoding %s entity %d: %w", t.ns, r.Key, err)
	}
	return t.kv.put(t.entityKey(r.Key), data)
}

// Get returns the entity with key.
func (t *Table) Get(key uint64) (*Entity, bool, error) {
	r, err := t.getRow(key)
	if err != nil || r == nil {
		return nil, false, err
	}
	return &r.Entity, true, nil
}

// GetKeyByName returns the key of the entity currently owning name.
func (t *Table) GetKeyByName(name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, nil
	}
	data, err := t.kv.get(t.nameKey(name))
	if err != nil {
		return 0, false, fmt.Errorf("error reading %s name %q: %w", t.ns, name, err)
	}
	if data == nil {
		return 0, false, nil
	}
	key, err := decodeKey(data)
	if err != nil {
		return 0, false, fmt.Errorf("error decoding %s name %q: %w", t.ns, name, err)
	}
	return key, true, nil
}

func (t *Table) members(key uint64) ([]pair, error) {
	pairs, err := t.kv.scan(t.memberPrefix(key))
	if err != nil {
		return nil, fmt.Errorf("error reading members of %s entity %d: %w", t.ns, key, err)
	}
	return pairs, nil
}

// parseMember returns the type and the member key of a membership entry.
func (t *Table) parseMember(key uint64, p pair) (MemberType, uint64, error) {
	rest := strings.TrimPrefix(p.key, t.memberPrefix(key))
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return "", 0, fmt.Errorf("invalid membership entry %q", p.key)
	}
	member, err := decodeKey(p.value)
	if err != nil {
		return "", 0, fmt.Errorf("invalid membership entry %q: %w", p.key, err)
	}
	return MemberType(rest[:idx]), member, nil
}

// GetMembershipByType returns the members of the entity grouped by type in
// insertion order. The map is empty for unknown entities.
func (t *Table) GetMembershipByType(key uint64) (map[MemberType][]uint64, error) {
	pairs, err := t.members(key)
	if err != nil {
		return nil, err
	}

	// entries of one type sort by sequence number, i.e. by insertion
	byType := make(map[MemberType][]uint64)
	for _, p := range pairs {
		typ, member, err := t.parseMember(key, p)
		if err != nil {
			return nil, err
		}
		byType[typ] = append(byType[typ], member)
	}
	return byType, nil
}

// GetMemberType returns the type memberKey was first added with.
func (t *Table) GetMemberType(key, memberKey uint64) (MemberType, bool, error) {
	pairs, err := t.members(key)
	if err != nil {
		return "", false, err
	}

	var (
		found    MemberType
		foundSeq string
		ok       bool
	)
	for _, p := range pairs {
		typ, member, err := t.parseMember(key, p)
		if err != nil {
			return "", false, err
		}
		seq := p.key[strings.LastIndex(p.key, "/")+1:]
		if member == memberKey && (!ok || seq < foundSeq) {
			found, foundSeq, ok = typ, seq, true
		}
	}
	return found, ok, nil
}

// PendingFor returns the documents waiting for the entity foreignKey.
func (t *Table) PendingFor(foreignKey uint64) ([]Pending, error) {
	pairs, err := t.kv.scan(t.pendingPrefix(foreignKey))
	if err != nil {
		return nil, fmt.Errorf("error reading pending documents of %s %d: %w", t.ns, foreignKey, err)
	}

	pending := make([]Pending, 0, len(pairs))
	for _, p := range pairs {
		var doc Pending
		if err := json.Unmarshal(p.value, &doc); err != nil {
			return nil, fmt.Errorf("invalid pending entry %q: %w", p.key, err)
		}
		pending = append(pending, doc)
	}
	return pending, nil
}

func (t *Table) setName(key uint64, name string) error {
	if name == "" {
		return nil
	}
	return t.kv.put(t.nameKey(name), encodeKey(key))
}

// dropName removes the name entry if it still points to key.
func (t *Table) dropName(key uint64, name string) error {
	owner, ok, err := t.GetKeyByName(name)
	if err != nil || !ok || owner != key {
		return err
	}
	return t.kv.del(t.nameKey(name))
}

func copyAttributes(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	cp := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return cp
}

// Create inserts a new entity.
func (t *Table) Create(key uint64, attrs Attrs) error {
	existing, err := t.getRow(key)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("cannot create %s entity %d: %w", t.ns, key, ErrDuplicateKey)
	}

	r := &row{Entity: Entity{
		Key:        key,
		Name:       attrs.Name,
		Version:    attrs.Version,
		Attributes: copyAttributes(attrs.Attributes),
	}}
	if err := t.putRow(r); err != nil {
		return err
	}
	return t.setName(key, attrs.Name)
}

// Update replaces the fields of an entity and moves its name index entry.
func (t *Table) Update(key uint64, attrs Attrs) error {
	r, err := t.getRow(key)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("cannot update %s entity %d: %w", t.ns, key, ErrNotFound)
	}

	oldName := r.Name
	r.Name = attrs.Name
	r.Version = attrs.Version
	r.Attributes = copyAttributes(attrs.Attributes)
	if err := t.putRow(r); err != nil {
		return err
	}

	if oldName != attrs.Name {
		if err := t.dropName(key, oldName); err != nil {
			return err
		}
	}
	return t.setName(key, attrs.Name)
}

// Delete removes an entity together with its name, membership and pending
// entries.
func (t *Table) Delete(key uint64) error {
	r, err := t.getRow(key)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("cannot delete %s entity %d: %w", t.ns, key, ErrNotFound)
	}

	if err := t.dropName(key, r.Name); err != nil {
		return err
	}
	pairs, err := t.members(key)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := t.kv.del(p.key); err != nil {
			return err
		}
	}
	if err := t.ClearPending(key); err != nil {
		return err
	}
	return t.kv.del(t.entityKey(key))
}

// AddMembership appends memberKey to the members of type memberType.
func (t *Table) AddMembership(key, memberKey uint64, memberType MemberType) error {
	if memberType == "" || strings.Contains(string(memberType), "/") {
		return fmt.Errorf("invalid member type %q", memberType)
	}
	r, err := t.getRow(key)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("cannot add member %d to %s entity %d: %w", memberKey, t.ns, key, ErrNotFound)
	}

	r.MemberSeq++
	entry := t.memberPrefix(key) + string(memberType) + "/" + hex(r.MemberSeq)
	if err := t.kv.put(entry, encodeKey(memberKey)); err != nil {
		return err
	}
	return t.putRow(r)
}

// RemoveMembership removes every occurrence of memberKey with memberType.
func (t *Table) RemoveMembership(key, memberKey uint64, memberType MemberType) error {
	r, err := t.getRow(key)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("cannot remove member %d from %s entity %d: %w", memberKey, t.ns, key, ErrNotFound)
	}

	pairs, err := t.kv.scan(t.memberPrefix(key) + string(memberType) + "/")
	if err != nil {
		return err
	}
	for _, p := range pairs {
		_, member, err := t.parseMember(key, p)
		if err != nil {
			return err
		}
		if member == memberKey {
			if err := t.kv.del(p.key); err != nil {
				return err
			}
		}
	}
	return t.putRow(r)
}

// MarkPending records that document id of index waits for foreignKey.
func (t *Table) MarkPending(foreignKey uint64, index, id string) error {
	data, err := json.Marshal(&Pending{Index: index, ID: id})
	if err != nil {
		return err
	}
	return t.kv.put(t.pendingPrefix(foreignKey)+index+"/"+id, data)
}

// ClearPending removes all pending documents of foreignKey.
func (t *Table) ClearPending(foreignKey uint64) error {
	pairs, err := t.kv.scan(t.pendingPrefix(foreignKey))
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := t.kv.del(p.key); err != nil {
			return err
		}
	}
	return nil
}

// Touch stamps the entity with the position of the transaction.
func (t *Table) Touch(key uint64) error {
	r, err := t.getRow(key)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("cannot touch %s entity %d: %w", t.ns, key, ErrNotFound)
	}
	return t.putRow(r)
}
