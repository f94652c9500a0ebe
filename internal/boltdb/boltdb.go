package boltdb

import (
	"encoding/json"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/dash-archiver"
)

var Buckets = struct {
	Metadata []byte
	Runs     []byte
}{
	Metadata: []byte("__metadata__"),
	Runs:     []byte("runs"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

type Database interface {
	Close() error

	dash_archiver.History
}

type database struct {
	*bbolt.DB
}

func New(path string) (_ Database, err error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		// Ensure buckets exist
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Runs); err != nil {
			return err
		}

		// Set the current version of the database
		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &database{db}, nil
}

// ListRuns returns every recorded run, oldest first.
func (d database) ListRuns() (runs []dash_archiver.RunRecord, err error) {
	err = d.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Runs)
		return bucket.ForEach(func(k, v []byte) error {
			var record dash_archiver.RunRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			} else {
				runs = append(runs, record)
				return nil
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

func (d database) GetRun(id string) (record *dash_archiver.RunRecord, err error) {
	err = d.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(Buckets.Runs).Get([]byte(id))
		if v == nil {
			return nil
		}
		record = &dash_archiver.RunRecord{}
		return json.Unmarshal(v, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (d database) WriteRun(record *dash_archiver.RunRecord) error {
	if data, err := json.Marshal(record); err != nil {
		return err
	} else {
		return d.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(Buckets.Runs).Put([]byte(record.ID), data)
		})
	}
}
