package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"finmodel"
)

var (
	bucketDrivers   = []byte("drivers")
	bucketLineItems = []byte("line_items")
	bucketFXRates   = []byte("fx_rates")
	bucketOpeningBS = []byte("opening_balance_sheet")
)

// BoltStore is finmodel's embedded reference store: one bbolt file backing
// scenario drivers, closing line-item state, FX rates, and opening balance
// sheets, grounded on the teacher's Storage type in storage.go. Unlike the
// teacher, records here are small numeric facts, so they're serialized
// with encoding/gob rather than protobuf (SPEC_FULL §3, "Dropped teacher
// dependencies").
type BoltStore struct {
	db *bbolt.DB
}

// Open creates or opens a bbolt-backed store at path, creating its buckets
// if absent (mirrors Storage.NewStorage / initBuckets in storage.go).
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("finmodel/store: failed to open database: %w", err)
	}
	s := &BoltStore{db: db}
	if err := s.initBuckets(); err != nil {
		return nil, fmt.Errorf("finmodel/store: failed to initialize buckets: %w", err)
	}
	return s, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketDrivers, bucketLineItems, bucketFXRates, bucketOpeningBS} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error { return s.db.Close() }

func periodKey(entity, scenario string, period int, code string) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d|%s", entity, scenario, period, code))
}

func encodeFloat(v float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFloat(data []byte) (float64, error) {
	var v float64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Drivers — finmodel.DriverStore
// ---------------------------------------------------------------------------

// PutDriver seeds one scenario driver input. Drivers are written once per
// scenario setup, before a run, never by the engine itself (spec §4.H:
// "Scenario drivers and the template are immutable during a run").
func (s *BoltStore) PutDriver(entity, scenario string, period int, code string, value float64) error {
	data, err := encodeFloat(value)
	if err != nil {
		return fmt.Errorf("finmodel/store: marshal driver: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDrivers).Put(periodKey(entity, scenario, period, code), data)
	})
}

// GetDriver implements finmodel.DriverStore.
func (s *BoltStore) GetDriver(entity, scenario string, period int, code string) (float64, bool, error) {
	var v float64
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDrivers).Get(periodKey(entity, scenario, period, code))
		if data == nil {
			return nil
		}
		found = true
		var err error
		v, err = decodeFloat(data)
		return err
	})
	return v, found, err
}

// ---------------------------------------------------------------------------
// Closing state — finmodel.PriorPeriodStore + ClosingStore
// ---------------------------------------------------------------------------

// PutLineItem implements finmodel.ClosingStore: it records one period's
// computed line-item value so a later period's PriorPeriodProvider can
// serve [t-k] references against it (spec §4.H).
func (s *BoltStore) PutLineItem(entity, scenario string, period int, code string, value float64) error {
	data, err := encodeFloat(value)
	if err != nil {
		return fmt.Errorf("finmodel/store: marshal line item: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLineItems).Put(periodKey(entity, scenario, period, code), data)
	})
}

// GetLineItem implements finmodel.PriorPeriodStore.
func (s *BoltStore) GetLineItem(entity, scenario string, period int, code string) (float64, bool, error) {
	var v float64
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketLineItems).Get(periodKey(entity, scenario, period, code))
		if data == nil {
			return nil
		}
		found = true
		var err error
		v, err = decodeFloat(data)
		return err
	})
	return v, found, err
}

// ---------------------------------------------------------------------------
// FX rates — finmodel.FXStore
// ---------------------------------------------------------------------------

func fxKey(ctx finmodel.Context, from, to, rateType string) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d|%s_%s_%s", ctx.Entity, ctx.Scenario, ctx.Period, from, to, rateType))
}

// PutRate seeds one FX quote.
func (s *BoltStore) PutRate(ctx finmodel.Context, from, to, rateType string, rate float64) error {
	data, err := encodeFloat(rate)
	if err != nil {
		return fmt.Errorf("finmodel/store: marshal fx rate: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFXRates).Put(fxKey(ctx, from, to, rateType), data)
	})
}

// GetRate implements finmodel.FXStore. A missing rate is reported as
// (0, false, nil) — the FXProvider, not this store, decides the 1.0
// fallback (spec §4.E #5).
func (s *BoltStore) GetRate(from, to, rateType string, ctx finmodel.Context) (float64, bool, error) {
	var v float64
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFXRates).Get(fxKey(ctx, from, to, rateType))
		if data == nil {
			return nil
		}
		found = true
		var err error
		v, err = decodeFloat(data)
		return err
	})
	return v, found, err
}

// ---------------------------------------------------------------------------
// Opening balance sheet
// ---------------------------------------------------------------------------

// PutOpeningBalanceSheet persists the opening state for one (entity,
// scenario) pair, the seed state a first-period Run consults (spec §4.E
// #4, §6).
func (s *BoltStore) PutOpeningBalanceSheet(entity, scenario string, sheet finmodel.OpeningBalanceSheet) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sheet); err != nil {
		return fmt.Errorf("finmodel/store: marshal opening balance sheet: %w", err)
	}
	key := []byte(fmt.Sprintf("%s|%s", entity, scenario))
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOpeningBS).Put(key, buf.Bytes())
	})
}

// GetOpeningBalanceSheet retrieves the opening state previously stored for
// (entity, scenario).
func (s *BoltStore) GetOpeningBalanceSheet(entity, scenario string) (finmodel.OpeningBalanceSheet, bool, error) {
	var sheet finmodel.OpeningBalanceSheet
	var found bool
	key := []byte(fmt.Sprintf("%s|%s", entity, scenario))
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketOpeningBS).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&sheet)
	})
	return sheet, found, err
}
