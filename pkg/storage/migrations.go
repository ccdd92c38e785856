package storage

import (
	"encoding/json"
	"fmt"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/challengectl/challengectl/pkg/types"
)

// migration is one idempotent schema step. Steps run in order inside a
// single write transaction; the schema_version row records the last one
// applied so reopening an up-to-date database is a no-op.
type migration struct {
	version int
	name    string
	apply   func(btx *bolt.Tx) error
}

var migrations = []migration{
	{1, "create buckets", migrateCreateBuckets},
	{2, "seed system defaults", migrateSeedSystemDefaults},
}

func (s *Store) migrate() error {
	return s.db.Update(func(btx *bolt.Tx) error {
		sys, err := btx.CreateBucketIfNotExists(bucketSystem)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSystem, err)
		}

		current := 0
		if v := sys.Get([]byte(keySchemaVersion)); v != nil {
			current, err = strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("bad schema version %q: %w", v, types.ErrCorrupt)
			}
		}

		latest := migrations[len(migrations)-1].version
		if current > latest {
			return fmt.Errorf("database schema v%d is newer than this binary (max v%d)", current, latest)
		}

		for _, m := range migrations {
			if m.version <= current {
				continue
			}
			if err := m.apply(btx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			if err := sys.Put([]byte(keySchemaVersion), []byte(strconv.Itoa(m.version))); err != nil {
				return err
			}
			current = m.version
		}
		return nil
	})
}

func migrateCreateBuckets(btx *bolt.Tx) error {
	buckets := [][]byte{
		bucketChallenges,
		bucketRunners,
		bucketTransmissions,
		bucketFiles,
		bucketEnrollTokens,
		bucketProvisionKeys,
		bucketUsers,
		bucketSessions,
	}

	for _, bucket := range buckets {
		if _, err := btx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

func migrateSeedSystemDefaults(btx *bolt.Tx) error {
	sys := btx.Bucket(bucketSystem)
	if sys.Get([]byte(keyPaused)) == nil {
		return sys.Put([]byte(keyPaused), []byte("false"))
	}
	return nil
}

func marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}

// unmarshal classifies decode failures as corruption: a value we wrote that
// no longer parses means the file is damaged, which is fatal for callers.
func unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%v: %w", err, types.ErrCorrupt)
	}
	return nil
}
