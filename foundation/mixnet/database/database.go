// Package database provides the transactional store for channels and tickets
// on top of bbolt. The engine allows a single writer at a time and any number
// of concurrent readers.
package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/cache"
	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ardanlabs/mixnode/foundation/validate"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Set of bucket names.
var (
	bucketChannels    = []byte("channels")
	bucketTickets     = []byte("tickets")
	bucketTicketStats = []byte("ticket_stats")
)

const initialMmapSize = 64 << 20

// Set of error variables for the store.
var (
	ErrReadOnly     = errors.New("transaction is read-only")
	ErrTicketExists = errors.New("ticket already exists")
)

// Error wraps failures of the storage engine with the operation that failed.
type Error struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("database: %s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	var dbErr *Error
	if errors.As(err, &dbErr) {
		return err
	}

	return &Error{Op: op, Err: err}
}

// =============================================================================

// Config represents the settings for opening the database.
type Config struct {
	Path                string             `validate:"required"`
	Timeout             time.Duration      `validate:"gte=0"`
	Me                  common.Address     `validate:"required"`
	Log                 *zap.SugaredLogger `validate:"required"`
	ChannelCacheSize    int                `validate:"gte=0"`
	UnrealizedCacheSize int                `validate:"gte=0"`
}

// Caches holds the in-memory caches shared by the store and its users.
type Caches struct {
	Parties    *cache.Cache[PartiesKey, *channel.Entry]
	Unrealized *cache.Cache[ticket.ChannelEpoch, uint256.Int]
}

// PartiesKey identifies a channel by its endpoints.
type PartiesKey struct {
	Source      common.Address
	Destination common.Address
}

// String implements the fmt.Stringer interface.
func (pk PartiesKey) String() string {
	return pk.Source.Hex() + pk.Destination.Hex()
}

// DB manages the channel and ticket data of the node.
type DB struct {
	bolt   *bbolt.DB
	log    *zap.SugaredLogger
	me     common.Address
	caches Caches
}

// Open opens or creates the database file and makes sure the buckets exist.
func Open(cfg Config) (*DB, error) {
	if cfg.ChannelCacheSize == 0 {
		cfg.ChannelCacheSize = 10_000
	}
	if cfg.UnrealizedCacheSize == 0 {
		cfg.UnrealizedCacheSize = 10_000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	if err := validate.Check(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	parties, err := cache.New[PartiesKey, *channel.Entry](cfg.ChannelCacheSize)
	if err != nil {
		return nil, err
	}

	unrealized, err := cache.New[ticket.ChannelEpoch, uint256.Int](cfg.UnrealizedCacheSize)
	if err != nil {
		return nil, err
	}

	// A write that has to grow the memory map waits for every open read
	// transaction, so start with a map that a node rarely outgrows.
	opts := bbolt.Options{
		Timeout:         cfg.Timeout,
		InitialMmapSize: initialMmapSize,
	}

	bdb, err := bbolt.Open(cfg.Path, 0600, &opts)
	if err != nil {
		return nil, wrap("open", err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChannels, bucketTickets, bucketTicketStats} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, wrap("create buckets", err)
	}

	db := DB{
		bolt: bdb,
		log:  cfg.Log,
		me:   cfg.Me,
		caches: Caches{
			Parties:    parties,
			Unrealized: unrealized,
		},
	}

	return &db, nil
}

// Close closes the database file.
func (db *DB) Close() error {
	return wrap("close", db.bolt.Close())
}

// Me returns the address of the node that owns the database.
func (db *DB) Me() common.Address {
	return db.me
}

// Caches returns the caches of the store.
func (db *DB) Caches() Caches {
	return db.caches
}

// =============================================================================

// Tx represents an open transaction. A Tx can be passed to any operation of
// the DB to make it part of the same unit of work.
type Tx struct {
	tx *bbolt.Tx
}

// Begin starts a new transaction. Only one writable transaction can be open
// at any time. Never begin a transaction while holding another one on the
// same goroutine, pass the open transaction instead.
func (db *DB) Begin(writable bool) (*Tx, error) {
	tx, err := db.bolt.Begin(writable)
	if err != nil {
		return nil, wrap("begin", err)
	}

	return &Tx{tx: tx}, nil
}

// Commit writes all changes to disk.
func (tx *Tx) Commit() error {
	return wrap("commit", tx.tx.Commit())
}

// Rollback discards all changes. It is safe to call after Commit.
func (tx *Tx) Rollback() error {
	if err := tx.tx.Rollback(); err != nil && !errors.Is(err, bbolt.ErrTxClosed) {
		return wrap("rollback", err)
	}
	return nil
}

// Writable reports whether the transaction can write.
func (tx *Tx) Writable() bool {
	return tx.tx.Writable()
}

// OnCommit registers a function to run after the transaction commits.
func (tx *Tx) OnCommit(fn func()) {
	tx.tx.OnCommit(fn)
}

// Update runs the function inside a writable transaction. The transaction
// is committed if the function returns nil and rolled back otherwise.
func (db *DB) Update(fn func(tx *Tx) error) error {
	return db.bolt.Update(func(tx *bbolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// View runs the function inside a read-only transaction.
func (db *DB) View(fn func(tx *Tx) error) error {
	return db.bolt.View(func(tx *bbolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// update runs the function in the provided transaction or in a new writable
// one when tx is nil.
func (db *DB) update(tx *Tx, op string, fn func(tx *Tx) error) error {
	if tx != nil {
		if !tx.Writable() {
			return wrap(op, ErrReadOnly)
		}
		return wrap(op, fn(tx))
	}

	return wrap(op, db.Update(fn))
}

// view runs the function in the provided transaction or in a new read-only
// one when tx is nil.
func (db *DB) view(tx *Tx, op string, fn func(tx *Tx) error) error {
	if tx != nil {
		return wrap(op, fn(tx))
	}

	return wrap(op, db.View(fn))
}
