package storage

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/challengectl/challengectl/pkg/types"
)

var (
	// Bucket names
	bucketChallenges    = []byte("challenges")
	bucketRunners       = []byte("runners")
	bucketTransmissions = []byte("transmissions")
	bucketFiles         = []byte("files")
	bucketEnrollTokens  = []byte("enrollment_tokens")
	bucketProvisionKeys = []byte("provisioning_keys")
	bucketUsers         = []byte("users")
	bucketSessions      = []byte("sessions")
	bucketSystem        = []byte("system_state")
)

// System state keys
const (
	keySchemaVersion = "schema_version"
	keyPaused        = "paused"
)

// Store is the BoltDB-backed durable store. Update runs the callback as the
// sole writer, so every read-modify-write inside one Update call commits
// atomically. View runs against a consistent snapshot and never blocks
// writers.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database under dataDir and applies pending
// migrations.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "challengectl.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the location of the database file
func (s *Store) Path() string {
	return s.db.Path()
}

// Tx exposes typed accessors over one storage transaction
type Tx struct {
	btx *bolt.Tx
}

// Update runs fn inside the single writer transaction
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// View runs fn against a read-only snapshot
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

func (tx *Tx) put(bucket []byte, key string, v interface{}) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	return tx.btx.Bucket(bucket).Put([]byte(key), data)
}

// Challenge operations

func (tx *Tx) GetChallenge(id string) (*types.Challenge, error) {
	data := tx.btx.Bucket(bucketChallenges).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("challenge %s: %w", id, types.ErrNotFound)
	}
	var c types.Challenge
	if err := unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode challenge %s: %w", id, err)
	}
	return &c, nil
}

func (tx *Tx) GetChallengeByName(name string) (*types.Challenge, error) {
	var found *types.Challenge
	err := tx.ForEachChallenge(func(c *types.Challenge) error {
		if c.Name == name {
			found = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("challenge %s: %w", name, types.ErrNotFound)
	}
	return found, nil
}

func (tx *Tx) PutChallenge(c *types.Challenge) error {
	return tx.put(bucketChallenges, c.ID, c)
}

func (tx *Tx) DeleteChallenge(id string) error {
	return tx.btx.Bucket(bucketChallenges).Delete([]byte(id))
}

func (tx *Tx) ForEachChallenge(fn func(c *types.Challenge) error) error {
	return tx.btx.Bucket(bucketChallenges).ForEach(func(k, v []byte) error {
		var c types.Challenge
		if err := unmarshal(v, &c); err != nil {
			return fmt.Errorf("decode challenge %s: %w", k, err)
		}
		return fn(&c)
	})
}

// Runner operations

func (tx *Tx) GetRunner(id string) (*types.Runner, error) {
	data := tx.btx.Bucket(bucketRunners).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("runner %s: %w", id, types.ErrNotFound)
	}
	var r types.Runner
	if err := unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode runner %s: %w", id, err)
	}
	return &r, nil
}

func (tx *Tx) PutRunner(r *types.Runner) error {
	return tx.put(bucketRunners, r.ID, r)
}

func (tx *Tx) DeleteRunner(id string) error {
	return tx.btx.Bucket(bucketRunners).Delete([]byte(id))
}

func (tx *Tx) ForEachRunner(fn func(r *types.Runner) error) error {
	return tx.btx.Bucket(bucketRunners).ForEach(func(k, v []byte) error {
		var r types.Runner
		if err := unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode runner %s: %w", k, err)
		}
		return fn(&r)
	})
}

// Transmission operations. Keys are zero-padded sequence numbers so cursor
// order equals insertion order.

func (tx *Tx) AppendTransmission(t *types.Transmission) error {
	b := tx.btx.Bucket(bucketTransmissions)
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("transmission sequence: %w", err)
	}
	t.ID = fmt.Sprintf("%016d", seq)
	if t.ReportedAt.IsZero() {
		t.ReportedAt = time.Now()
	}
	data, err := marshal(t)
	if err != nil {
		return err
	}
	return b.Put([]byte(t.ID), data)
}

// ForEachTransmissionDesc iterates newest-first. The callback returns false
// to stop early.
func (tx *Tx) ForEachTransmissionDesc(fn func(t *types.Transmission) (bool, error)) error {
	c := tx.btx.Bucket(bucketTransmissions).Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		var t types.Transmission
		if err := unmarshal(v, &t); err != nil {
			return fmt.Errorf("decode transmission %s: %w", k, err)
		}
		cont, err := fn(&t)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// CountTransmissions returns how many transmissions reference a challenge
func (tx *Tx) CountTransmissions(challengeID string) (int, error) {
	count := 0
	err := tx.ForEachTransmissionDesc(func(t *types.Transmission) (bool, error) {
		if t.ChallengeID == challengeID {
			count++
		}
		return true, nil
	})
	return count, err
}

// File metadata operations

func (tx *Tx) GetFileMeta(digest string) (*types.FileMeta, error) {
	data := tx.btx.Bucket(bucketFiles).Get([]byte(digest))
	if data == nil {
		return nil, fmt.Errorf("file %s: %w", digest, types.ErrNotFound)
	}
	var f types.FileMeta
	if err := unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode file %s: %w", digest, err)
	}
	return &f, nil
}

func (tx *Tx) PutFileMeta(f *types.FileMeta) error {
	return tx.put(bucketFiles, f.Digest, f)
}

func (tx *Tx) DeleteFileMeta(digest string) error {
	return tx.btx.Bucket(bucketFiles).Delete([]byte(digest))
}

func (tx *Tx) ForEachFileMeta(fn func(f *types.FileMeta) error) error {
	return tx.btx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
		var f types.FileMeta
		if err := unmarshal(v, &f); err != nil {
			return fmt.Errorf("decode file %s: %w", k, err)
		}
		return fn(&f)
	})
}

// Enrollment token operations

func (tx *Tx) GetEnrollmentToken(token string) (*types.EnrollmentToken, error) {
	data := tx.btx.Bucket(bucketEnrollTokens).Get([]byte(token))
	if data == nil {
		return nil, fmt.Errorf("enrollment token: %w", types.ErrNotFound)
	}
	var t types.EnrollmentToken
	if err := unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode enrollment token: %w", err)
	}
	return &t, nil
}

func (tx *Tx) PutEnrollmentToken(t *types.EnrollmentToken) error {
	return tx.put(bucketEnrollTokens, t.Token, t)
}

func (tx *Tx) DeleteEnrollmentToken(token string) error {
	return tx.btx.Bucket(bucketEnrollTokens).Delete([]byte(token))
}

func (tx *Tx) ForEachEnrollmentToken(fn func(t *types.EnrollmentToken) error) error {
	return tx.btx.Bucket(bucketEnrollTokens).ForEach(func(k, v []byte) error {
		var t types.EnrollmentToken
		if err := unmarshal(v, &t); err != nil {
			return fmt.Errorf("decode enrollment token: %w", err)
		}
		return fn(&t)
	})
}

// Provisioning key operations

func (tx *Tx) PutProvisioningKey(k *types.ProvisioningKey) error {
	return tx.put(bucketProvisionKeys, k.ID, k)
}

func (tx *Tx) DeleteProvisioningKey(id string) error {
	return tx.btx.Bucket(bucketProvisionKeys).Delete([]byte(id))
}

func (tx *Tx) ForEachProvisioningKey(fn func(k *types.ProvisioningKey) error) error {
	return tx.btx.Bucket(bucketProvisionKeys).ForEach(func(key, v []byte) error {
		var pk types.ProvisioningKey
		if err := unmarshal(v, &pk); err != nil {
			return fmt.Errorf("decode provisioning key %s: %w", key, err)
		}
		return fn(&pk)
	})
}

// User operations

func (tx *Tx) GetUser(username string) (*types.User, error) {
	data := tx.btx.Bucket(bucketUsers).Get([]byte(username))
	if data == nil {
		return nil, fmt.Errorf("user %s: %w", username, types.ErrNotFound)
	}
	var u types.User
	if err := unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", username, err)
	}
	return &u, nil
}

func (tx *Tx) PutUser(u *types.User) error {
	return tx.put(bucketUsers, u.Username, u)
}

// Session operations

func (tx *Tx) GetSession(token string) (*types.Session, error) {
	data := tx.btx.Bucket(bucketSessions).Get([]byte(token))
	if data == nil {
		return nil, fmt.Errorf("session: %w", types.ErrNotFound)
	}
	var sess types.Session
	if err := unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (tx *Tx) PutSession(sess *types.Session) error {
	return tx.put(bucketSessions, sess.Token, sess)
}

func (tx *Tx) DeleteSession(token string) error {
	return tx.btx.Bucket(bucketSessions).Delete([]byte(token))
}

func (tx *Tx) ForEachSession(fn func(sess *types.Session) error) error {
	return tx.btx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
		var sess types.Session
		if err := unmarshal(v, &sess); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		return fn(&sess)
	})
}

// System state operations

func (tx *Tx) GetSystemValue(key string) (string, bool) {
	data := tx.btx.Bucket(bucketSystem).Get([]byte(key))
	if data == nil {
		return "", false
	}
	return string(data), true
}

func (tx *Tx) PutSystemValue(key, value string) error {
	return tx.btx.Bucket(bucketSystem).Put([]byte(key), []byte(value))
}

func (tx *Tx) Paused() bool {
	v, ok := tx.GetSystemValue(keyPaused)
	return ok && v == "true"
}

func (tx *Tx) SetPaused(paused bool) error {
	v := "false"
	if paused {
		v = "true"
	}
	return tx.PutSystemValue(keyPaused, v)
}
