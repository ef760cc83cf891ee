// Package store implements the world persistence contracts on SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/viwo/viwo/capability"
	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

var log = commonlog.GetLogger("viwo.store")

// maxPrototypeDepth bounds prototype-chain walks so a cycle cannot hang
// verb resolution.
const maxPrototypeDepth = 64

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	prototype_id INTEGER,
	props JSON NOT NULL
);
CREATE TABLE IF NOT EXISTS verbs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	code BLOB NOT NULL,
	UNIQUE (entity_id, name)
);
CREATE TABLE IF NOT EXISTS capabilities (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	owner_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	params BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS capabilities_owner ON capabilities (owner_id, seq);
`

var codeDecMode cbor.DecMode

func init() {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: failed to create CBOR dec mode: %v", err))
	}
	codeDecMode = dm
}

// SQLite is a world.Store backed by a SQLite database. Entity props are
// stored as JSON; verb code and capability params as canonical CBOR.
type SQLite struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

var _ world.Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory world.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	log.Debugf("opened world database %s", path)
	return &SQLite{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// Entity loads one entity.
func (s *SQLite) Entity(id int64) (*world.Entity, error) {
	var (
		proto sql.NullInt64
		props string
	)
	err := s.db.QueryRow("SELECT prototype_id, props FROM entities WHERE id = ?", id).Scan(&proto, &props)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("entity %d: %w", id, world.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("querying entity: %w", err)
	}
	e := &world.Entity{ID: id, Props: map[string]any{}}
	if proto.Valid {
		p := proto.Int64
		e.PrototypeID = &p
	}
	if err := json.Unmarshal([]byte(props), &e.Props); err != nil {
		return nil, fmt.Errorf("parsing entity %d props: %w", id, err)
	}
	return e, nil
}

// CreateEntity inserts an entity and returns its id.
func (s *SQLite) CreateEntity(props map[string]any, prototypeID *int64) (int64, error) {
	return s.insertEntity(0, props, prototypeID)
}

func (s *SQLite) insertEntity(id int64, props map[string]any, prototypeID *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encodeProps(props)
	if err != nil {
		return 0, err
	}
	var res sql.Result
	if id > 0 {
		res, err = s.db.Exec("INSERT INTO entities (id, prototype_id, props) VALUES (?, ?, json(?))",
			id, nullable(prototypeID), data)
	} else {
		res, err = s.db.Exec("INSERT INTO entities (prototype_id, props) VALUES (?, json(?))",
			nullable(prototypeID), data)
	}
	if err != nil {
		return 0, fmt.Errorf("creating entity: %w", err)
	}
	return res.LastInsertId()
}

// UpdateEntity merges props into the entity's existing props.
func (s *SQLite) UpdateEntity(id int64, props map[string]any) error {
	e, err := s.Entity(id)
	if err != nil {
		return err
	}
	for k, v := range props {
		e.Props[k] = v
	}
	data, err := encodeProps(e.Props)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("UPDATE entities SET props = json(?) WHERE id = ?", data, id); err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return nil
}

// DeleteEntity removes an entity and its verbs.
func (s *SQLite) DeleteEntity(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %d: %w", id, world.ErrEntityNotFound)
	}
	if _, err := s.db.Exec("DELETE FROM verbs WHERE entity_id = ?", id); err != nil {
		return fmt.Errorf("deleting verbs: %w", err)
	}
	return nil
}

// SetPrototype re-points the entity's prototype. Nil clears it.
func (s *SQLite) SetPrototype(id int64, prototypeID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE entities SET prototype_id = ? WHERE id = ?", nullable(prototypeID), id)
	if err != nil {
		return fmt.Errorf("setting prototype: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %d: %w", id, world.ErrEntityNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Verbs
// ---------------------------------------------------------------------------

// AddVerb attaches (or replaces) a verb on an entity.
func (s *SQLite) AddVerb(entityID int64, name string, code vm.Node) (int64, error) {
	data, err := encodeCode(code)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO verbs (entity_id, name, code) VALUES (?, ?, ?)
		ON CONFLICT (entity_id, name) DO UPDATE SET code = excluded.code`, entityID, name, data)
	if err != nil {
		return 0, fmt.Errorf("adding verb: %w", err)
	}
	var id int64
	if err := s.db.QueryRow("SELECT id FROM verbs WHERE entity_id = ? AND name = ?", entityID, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("adding verb: %w", err)
	}
	return id, nil
}

// Verbs lists the verbs visible on an entity, nearest definition first.
func (s *SQLite) Verbs(id int64) ([]*world.Verb, error) {
	var out []*world.Verb
	seen := map[string]bool{}
	err := s.walk(id, func(e *world.Entity) (bool, error) {
		own, err := s.ownVerbs(e.ID)
		if err != nil {
			return false, err
		}
		for _, v := range own {
			if !seen[v.Name] {
				seen[v.Name] = true
				out = append(out, v)
			}
		}
		return true, nil
	})
	return out, err
}

// Verb resolves name on the entity or its nearest prototype.
func (s *SQLite) Verb(id int64, name string) (*world.Verb, error) {
	var found *world.Verb
	err := s.walk(id, func(e *world.Entity) (bool, error) {
		v, err := s.ownVerb(e.ID, name)
		if errors.Is(err, world.ErrVerbNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		found = v
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("verb '%s' on %d: %w", name, id, world.ErrVerbNotFound)
	}
	return found, nil
}

// walk visits id and then each prototype until fn returns false.
func (s *SQLite) walk(id int64, fn func(e *world.Entity) (bool, error)) error {
	seen := map[int64]bool{}
	next := &id
	for depth := 0; next != nil && depth < maxPrototypeDepth; depth++ {
		if seen[*next] {
			log.Warningf("prototype cycle at entity %d", *next)
			return nil
		}
		seen[*next] = true
		e, err := s.Entity(*next)
		if err != nil {
			if depth > 0 && errors.Is(err, world.ErrEntityNotFound) {
				return nil
			}
			return err
		}
		more, err := fn(e)
		if err != nil || !more {
			return err
		}
		next = e.PrototypeID
	}
	return nil
}

func (s *SQLite) ownVerbs(entityID int64) ([]*world.Verb, error) {
	rows, err := s.db.Query("SELECT id, name, code FROM verbs WHERE entity_id = ? ORDER BY id", entityID)
	if err != nil {
		return nil, fmt.Errorf("querying verbs: %w", err)
	}
	defer rows.Close()

	var out []*world.Verb
	for rows.Next() {
		v := &world.Verb{EntityID: entityID}
		var data []byte
		if err := rows.Scan(&v.ID, &v.Name, &data); err != nil {
			return nil, fmt.Errorf("scanning verb: %w", err)
		}
		if v.Code, err = decodeCode(data); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) ownVerb(entityID int64, name string) (*world.Verb, error) {
	v := &world.Verb{EntityID: entityID, Name: name}
	var data []byte
	err := s.db.QueryRow("SELECT id, code FROM verbs WHERE entity_id = ? AND name = ?", entityID, name).Scan(&v.ID, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, world.ErrVerbNotFound
		}
		return nil, fmt.Errorf("querying verb: %w", err)
	}
	if v.Code, err = decodeCode(data); err != nil {
		return nil, err
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Capabilities
// ---------------------------------------------------------------------------

// CreateCapability stores a new capability under a fresh UUID.
func (s *SQLite) CreateCapability(ownerID int64, typ string, params map[string]any) (string, error) {
	data, err := capability.MarshalParams(params)
	if err != nil {
		return "", fmt.Errorf("encoding capability params: %w", err)
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec("INSERT INTO capabilities (id, owner_id, type, params) VALUES (?, ?, ?, ?)",
		id, ownerID, typ, data)
	if err != nil {
		return "", fmt.Errorf("creating capability: %w", err)
	}
	return id, nil
}

// Capability loads one capability record.
func (s *SQLite) Capability(id string) (*world.CapabilityRecord, error) {
	rec := &world.CapabilityRecord{ID: id}
	var data []byte
	err := s.db.QueryRow("SELECT owner_id, type, params FROM capabilities WHERE id = ?", id).
		Scan(&rec.OwnerID, &rec.Type, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("capability %s: %w", id, world.ErrCapabilityNotFound)
		}
		return nil, fmt.Errorf("querying capability: %w", err)
	}
	if rec.Params, err = capability.UnmarshalParams(data); err != nil {
		return nil, err
	}
	return rec, nil
}

// Capabilities lists an owner's capabilities in creation order.
func (s *SQLite) Capabilities(ownerID int64) ([]*world.CapabilityRecord, error) {
	rows, err := s.db.Query("SELECT id, type, params FROM capabilities WHERE owner_id = ? ORDER BY seq", ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying capabilities: %w", err)
	}
	defer rows.Close()

	var out []*world.CapabilityRecord
	for rows.Next() {
		rec := &world.CapabilityRecord{OwnerID: ownerID}
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.Type, &data); err != nil {
			return nil, fmt.Errorf("scanning capability: %w", err)
		}
		if rec.Params, err = capability.UnmarshalParams(data); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateCapabilityOwner transfers a capability.
func (s *SQLite) UpdateCapabilityOwner(id string, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE capabilities SET owner_id = ? WHERE id = ?", ownerID, id)
	if err != nil {
		return fmt.Errorf("transferring capability: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("capability %s: %w", id, world.ErrCapabilityNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Encoding helpers
// ---------------------------------------------------------------------------

func encodeProps(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	plain := make(map[string]any, len(props))
	for k, v := range props {
		plain[k] = vm.ToPlain(vm.FromPlain(v))
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("encoding props: %w", err)
	}
	return string(data), nil
}

func encodeCode(code vm.Node) ([]byte, error) {
	data, err := cbor.Marshal(vm.ToAny(code))
	if err != nil {
		return nil, fmt.Errorf("encoding verb code: %w", err)
	}
	return data, nil
}

func decodeCode(data []byte) (vm.Node, error) {
	var raw any
	if err := codeDecMode.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding verb code: %w", err)
	}
	n, err := vm.FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding verb code: %w", err)
	}
	return n, nil
}

func nullable(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
