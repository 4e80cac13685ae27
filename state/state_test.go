package state

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/lovoo/projector/storage"
)

const groups = "group"

func newStore(t *testing.T) *Store {
	return New(storage.NewMemory())
}

// apply runs fn in a transaction at position and commits it.
func apply(t *testing.T, s *Store, position uint64, fn func(m Mutator) error) {
	txn := s.Begin(position)
	require.NoError(t, fn(txn.Table(groups)))
	require.NoError(t, txn.Commit())
}

func TestStore_GroupScenario(t *testing.T) {
	s := newStore(t)

	apply(t, s, 1, func(m Mutator) error {
		return m.Create(1, Attrs{Name: "g"})
	})
	apply(t, s, 2, func(m Mutator) error {
		return m.AddMembership(1, 10, "USER")
	})
	apply(t, s, 3, func(m Mutator) error {
		return m.AddMembership(1, 20, "ROLE")
	})

	r := s.Table(groups)
	members, err := r.GetMembershipByType(1)
	require.NoError(t, err)
	require.Equal(t, map[MemberType][]uint64{"USER": {10}, "ROLE": {20}}, members)

	key, ok, err := r.GetKeyByName("g")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), key)

	e, ok, err := r.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "g", e.Name)
	require.Equal(t, uint64(3), e.Position)

	typ, ok, err := r.GetMemberType(1, 20)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, MemberType("ROLE"), typ)
}

func TestStore_Create(t *testing.T) {
	s := newStore(t)
	apply(t, s, 1, func(m Mutator) error {
		return m.Create(1, Attrs{Name: "a", Version: 2, Attributes: map[string]string{"x": "y"}})
	})

	txn := s.Begin(2)
	err := txn.Table(groups).Create(1, Attrs{Name: "b"})
	require.True(t, errors.Is(err, ErrDuplicateKey))
	txn.Discard()

	e, ok, err := s.Table(groups).Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, &Entity{Key: 1, Name: "a", Version: 2, Attributes: map[string]string{"x": "y"}, Position: 1}, e)
}

func TestStore_NotFound(t *testing.T) {
	s := newStore(t)
	m := s.Begin(1).Table(groups)

	require.True(t, errors.Is(m.Update(1, Attrs{Name: "a"}), ErrNotFound))
	require.True(t, errors.Is(m.AddMembership(1, 2, "USER"), ErrNotFound))
	require.True(t, errors.Is(m.RemoveMembership(1, 2, "USER"), ErrNotFound))
	require.True(t, errors.Is(m.Delete(1), ErrNotFound))
	require.True(t, errors.Is(m.Touch(1), ErrNotFound))

	_, ok, err := m.Get(1)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = m.GetKeyByName("a")
	require.NoError(t, err)
	require.False(t, ok)

	members, err := m.GetMembershipByType(1)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestStore_Rename(t *testing.T) {
	s := newStore(t)
	apply(t, s, 1, func(m Mutator) error {
		return m.Create(1, Attrs{Name: "old"})
	})
	apply(t, s, 2, func(m Mutator) error {
		return m.Update(1, Attrs{Name: "new"})
	})

	r := s.Table(groups)
	_, ok, err := r.GetKeyByName("old")
	require.NoError(t, err)
	require.False(t, ok)

	key, ok, err := r.GetKeyByName("new")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), key)
}

func TestStore_NameLastWriterWins(t *testing.T) {
	s := newStore(t)
	apply(t, s, 1, func(m Mutator) error {
		return m.Create(1, Attrs{Name: "shared"})
	})
	apply(t, s, 2, func(m Mutator) error {
		return m.Create(2, Attrs{Name: "shared"})
	})

	key, ok, err := s.Table(groups).GetKeyByName("shared")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), key)

	// renaming the former owner must not drop the entry of the new owner
	apply(t, s, 3, func(m Mutator) error {
		return m.Update(1, Attrs{Name: "other"})
	})
	key, ok, err = s.Table(groups).GetKeyByName("shared")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), key)
}

func TestStore_EmptyNameNotIndexed(t *testing.T) {
	s := newStore(t)
	apply(t, s, 1, func(m Mutator) error {
		return m.Create(1, Attrs{})
	})
	dump, err := s.Dump()
	require.NoError(t, err)
	require.Len(t, dump, 1)

	_, ok, err := s.Table(groups).GetKeyByName("")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_MembershipMultiplicity(t *testing.T) {
	s := newStore(t)
	apply(t, s, 1, func(m Mutator) error {
		if err := m.Create(1, Attrs{Name: "g"}); err != nil {
			return err
		}
		if err := m.AddMembership(1, 10, "USER"); err != nil {
			return err
		}
		if err := m.AddMembership(1, 11, "USER"); err != nil {
			return err
		}
		return m.AddMembership(1, 10, "USER")
	})

	members, err := s.Table(groups).GetMembershipByType(1)
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 11, 10}, members["USER"])

	apply(t, s, 2, func(m Mutator) error {
		return m.RemoveMembership(1, 10, "USER")
	})
	members, err = s.Table(groups).GetMembershipByType(1)
	require.NoError(t, err)
	require.Equal(t, []uint64{11}, members["USER"])
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)
	apply(t, s, 1, func(m Mutator) error {
		if err := m.Create(1, Attrs{Name: "g"}); err != nil {
			return err
		}
		if err := m.AddMembership(1, 10, "USER"); err != nil {
			return err
		}
		return m.MarkPending(1, "list-view", "doc-1")
	})
	apply(t, s, 2, func(m Mutator) error {
		return m.Delete(1)
	})

	dump, err := s.Dump()
	require.NoError(t, err)
	require.Empty(t, dump)

	// the key can be reused after deletion
	apply(t, s, 3, func(m Mutator) error {
		return m.Create(1, Attrs{Name: "g"})
	})
}

func TestStore_Pending(t *testing.T) {
	s := newStore(t)
	apply(t, s, 1, func(m Mutator) error {
		if err := m.MarkPending(99, "list-view", "b"); err != nil {
			return err
		}
		if err := m.MarkPending(99, "list-view", "a"); err != nil {
			return err
		}
		return m.MarkPending(98, "list-view", "c")
	})

	pending, err := s.Table(groups).PendingFor(99)
	require.NoError(t, err)
	require.Equal(t, []Pending{{Index: "list-view", ID: "a"}, {Index: "list-view", ID: "b"}}, pending)

	apply(t, s, 2, func(m Mutator) error {
		return m.ClearPending(99)
	})
	pending, err = s.Table(groups).PendingFor(99)
	require.NoError(t, err)
	require.Empty(t, pending)

	pending, err = s.Table(groups).PendingFor(98)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestTxn_Isolation(t *testing.T) {
	s := newStore(t)
	txn := s.Begin(1)
	m := txn.Table(groups)
	require.NoError(t, m.Create(1, Attrs{Name: "g"}))
	require.NoError(t, m.AddMembership(1, 10, "USER"))

	// staged mutations are visible inside the transaction only
	_, ok, err := m.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	members, err := m.GetMembershipByType(1)
	require.NoError(t, err)
	require.Equal(t, []uint64{10}, members["USER"])

	_, ok, err = s.Table(groups).Get(1)
	require.NoError(t, err)
	require.False(t, ok)

	txn.Discard()
	_, ok, err = s.Table(groups).Get(1)
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, txn.Commit())
	require.Error(t, m.Create(2, Attrs{}))
}

func TestTxn_DeleteInsideTxn(t *testing.T) {
	s := newStore(t)
	apply(t, s, 1, func(m Mutator) error {
		if err := m.Create(1, Attrs{Name: "g"}); err != nil {
			return err
		}
		if err := m.AddMembership(1, 10, "USER"); err != nil {
			return err
		}
		return m.Delete(1)
	})
	dump, err := s.Dump()
	require.NoError(t, err)
	require.Empty(t, dump)
}

func TestTable_ReadOnly(t *testing.T) {
	s := newStore(t)
	r := s.Table(groups)
	m, ok := r.(Mutator)
	require.True(t, ok)
	require.True(t, errors.Is(m.MarkPending(1, "x", "y"), errReadOnly))
}

func TestTable_InvalidNamespace(t *testing.T) {
	s := newStore(t)
	require.Panics(t, func() { s.Table("") })
	require.Panics(t, func() { s.Table("a/b") })
}

func TestStore_Namespaces(t *testing.T) {
	s := newStore(t)
	txn := s.Begin(1)
	require.NoError(t, txn.Table("a").Create(1, Attrs{Name: "x"}))
	require.NoError(t, txn.Table("b").Create(1, Attrs{Name: "y"}))
	require.NoError(t, txn.Commit())

	e, ok, err := s.Table("a").Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", e.Name)

	e, ok, err = s.Table("b").Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "y", e.Name)
}

func TestStore_LevelDB(t *testing.T) {
	path := t.TempDir()
	open := func() storage.Storage {
		db, err := leveldb.OpenFile(path, nil)
		require.NoError(t, err)
		st, err := storage.New(db)
		require.NoError(t, err)
		require.NoError(t, st.MarkRecovered())
		return st
	}

	st := open()
	s := New(st)
	apply(t, s, 1, func(m Mutator) error {
		if err := m.Create(1, Attrs{Name: "g"}); err != nil {
			return err
		}
		return m.AddMembership(1, 10, "USER")
	})
	before, err := s.Dump()
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st = open()
	defer st.Close()
	after, err := New(st).Dump()
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(before, after))
}

// checkConsistency verifies that every index entry points to an existing
// entity it agrees with.
func checkConsistency(t *testing.T, s *Store) {
	r := s.Table(groups)
	dump, err := s.Dump()
	require.NoError(t, err)

	for k, v := range dump {
		var (
			name string
			key  uint64
		)
		switch {
		case strings.HasPrefix(k, groups+"/n/"):
			name = strings.TrimPrefix(k, groups+"/n/")
			key, err = strconv.ParseUint(v, 10, 64)
			require.NoError(t, err)
			e, ok, err := r.Get(key)
			require.NoError(t, err)
			require.True(t, ok, "name %q points to missing entity %d", name, key)
			require.Equal(t, name, e.Name, "name %q points to entity %d", name, key)
		case strings.HasPrefix(k, groups+"/m/"):
			parts := strings.Split(k, "/")
			key, err = strconv.ParseUint(parts[2], 16, 64)
			require.NoError(t, err)
			_, ok, err := r.Get(key)
			require.NoError(t, err)
			require.True(t, ok, "membership %q of missing entity", k)
		}
	}
}

func TestStore_IndexConsistency(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	names := []string{"", "a", "b", "c", "d"}
	keys := []uint64{1, 2, 3, 4}

	for run := 0; run < 20; run++ {
		s := newStore(t)
		for pos := uint64(1); pos <= 100; pos++ {
			key := keys[rnd.Intn(len(keys))]
			name := names[rnd.Intn(len(names))]

			txn := s.Begin(pos)
			m := txn.Table(groups)
			_, exists, err := m.Get(key)
			require.NoError(t, err)
			switch op := rnd.Intn(4); {
			case !exists:
				require.NoError(t, m.Create(key, Attrs{Name: name}))
			case op == 0:
				require.NoError(t, m.Delete(key))
			case op == 1:
				require.NoError(t, m.AddMembership(key, uint64(rnd.Intn(5)), "USER"))
			default:
				require.NoError(t, m.Update(key, Attrs{Name: name}))
			}
			require.NoError(t, txn.Commit())
			checkConsistency(t, s)
		}
	}
}
