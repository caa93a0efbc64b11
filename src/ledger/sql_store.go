package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/algorand/go-deadlock"
	"github.com/jmoiron/sqlx"
	cm "github.com/mosaicnetworks/snowdag/src/common"
	"github.com/sirupsen/logrus"

	// registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS blocks (
	hash          TEXT PRIMARY KEY,
	slot          TEXT NOT NULL UNIQUE,
	sender        TEXT NOT NULL,
	recipient     TEXT NOT NULL,
	amount        INTEGER NOT NULL,
	previous_hash TEXT NOT NULL,
	sig           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS blocks_sender ON blocks(sender);
CREATE INDEX IF NOT EXISTS blocks_recipient ON blocks(recipient);
`

const blockColumns = "hash, slot, sender, recipient, amount, previous_hash, sig"

// blockRow is the SQL representation of a Block.
type blockRow struct {
	Hash         string `db:"hash"`
	Slot         string `db:"slot"`
	Sender       string `db:"sender"`
	Recipient    string `db:"recipient"`
	Amount       int64  `db:"amount"`
	PreviousHash string `db:"previous_hash"`
	Sig          string `db:"sig"`
}

func toRow(b *Block) blockRow {
	return blockRow{
		Hash:         b.Hash,
		Slot:         b.Slot(),
		Sender:       b.Sender,
		Recipient:    b.Recipient,
		Amount:       int64(b.Amount),
		PreviousHash: b.PreviousHash,
		Sig:          b.Sig,
	}
}

func (r blockRow) block() *Block {
	return &Block{
		Sender:       r.Sender,
		Recipient:    r.Recipient,
		Amount:       uint64(r.Amount),
		PreviousHash: r.PreviousHash,
		Hash:         r.Hash,
		Sig:          r.Sig,
	}
}

// SQLStore implements the Store interface on a sqlite database. Amounts fit
// in sqlite's signed 64 bit integers since they never exceed MaxAmount.
type SQLStore struct {
	*AccountLocks

	db   *sqlx.DB
	path string

	writeLock deadlock.Mutex

	logger *logrus.Entry
}

// NewSQLStore opens or creates the sqlite database at path.
func NewSQLStore(path string, logger *logrus.Entry) (*SQLStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// a single connection avoids SQLITE_BUSY between readers and the writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLStore{
		AccountLocks: NewAccountLocks(),
		db:           db,
		path:         path,
		logger:       logger.WithField("store", SQLStoreType),
	}, nil
}

// StoreBlock implements the Store interface. Planning and writes happen in a
// single SQL transaction.
func (s *SQLStore) StoreBlock(block *Block) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	plan, err := planStore(sqlReader{tx}, block)
	if err != nil {
		return err
	}
	if plan == nil {
		return nil
	}

	// the unique slot constraint requires the old occupant to go first; the
	// transaction hides the intermediate state
	for _, b := range plan.removed {
		if _, err := tx.Exec(`DELETE FROM blocks WHERE hash = ?`, b.Hash); err != nil {
			return err
		}
	}

	row := toRow(plan.insert)
	if _, err := tx.NamedExec(
		`INSERT INTO blocks (`+blockColumns+`)
		VALUES (:hash, :slot, :sender, :recipient, :amount, :previous_hash, :sig)`,
		row,
	); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if len(plan.removed) > 0 {
		s.logger.WithFields(logrus.Fields{
			"block":   plan.insert.Hash,
			"removed": len(plan.removed),
		}).Debug("Replaced blocks")
	}

	return nil
}

// GetBlock implements the Store interface.
func (s *SQLStore) GetBlock(hash string) (*Block, error) {
	b, err := sqlReader{s.db}.block(hash)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, hash)
	}
	return b, nil
}

// GetPreference implements the Store interface.
func (s *SQLStore) GetPreference(slot string) (*Block, error) {
	b, err := sqlReader{s.db}.occupant(slot)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, cm.NewStoreErr("Slot", cm.KeyNotFound, slot)
	}
	return b, nil
}

// GetAccount implements the Store interface.
func (s *SQLStore) GetAccount(address string) (*Account, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := readAccount(sqlReader{tx}, address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, cm.NewStoreErr("Account", cm.KeyNotFound, address)
	}
	return account, nil
}

// Close implements the Store interface.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *SQLStore) StorePath() string {
	return s.path
}

// sqlReader runs the planner's queries on a database or a transaction.
type sqlReader struct {
	q sqlx.Queryer
}

func (r sqlReader) get(query string, arg string) (*Block, error) {
	var row blockRow
	err := sqlx.Get(r.q, &row, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.block(), nil
}

func (r sqlReader) block(hash string) (*Block, error) {
	return r.get(`SELECT `+blockColumns+` FROM blocks WHERE hash = ?`, hash)
}

func (r sqlReader) occupant(slot string) (*Block, error) {
	return r.get(`SELECT `+blockColumns+` FROM blocks WHERE slot = ?`, slot)
}

func (r sqlReader) inbound(address string) ([]*Block, error) {
	rows := []blockRow{}
	if err := sqlx.Select(r.q, &rows,
		`SELECT `+blockColumns+` FROM blocks WHERE recipient = ? ORDER BY hash`,
		address,
	); err != nil {
		return nil, err
	}

	res := make([]*Block, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.block())
	}
	return res, nil
}
