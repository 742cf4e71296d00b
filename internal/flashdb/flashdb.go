// Package flashdb persists a simulated page-erase flash chip in BadgerDB, so
// the host simulator keeps its medium between runs.
//
// Every erase page lives under its own key. A page without a key is erased,
// which keeps a fresh database and a freshly erased chip the same thing.
package flashdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
	"github.com/sirupsen/logrus"
)

const erased = 0xFF

var (
	pagePrefix  = []byte("page:")
	geometryKey = []byte("meta:geometry")
)

// ErrGeometryMismatch reports a database created for another medium size.
var ErrGeometryMismatch = fmt.Errorf("%w: flashdb geometry mismatch", storage.ErrInvalidConfiguration)

type Config struct {
	Path     string
	Size     uint64
	PageSize uint64

	// MinimumFreeSpace is the free space in bytes the volume holding Path
	// needs before the database is opened.
	MinimumFreeSpace uint64

	// Logger receives badger and disk usage messages. Nil silences badger.
	Logger *logrus.Logger
}

// FlashDB is a medium.Medium backed by a badger database.
type FlashDB struct {
	config       Config
	db           *badger.DB
	log          *logrus.Logger
	readCounter  uint64
	writeCounter uint64
}

// Open opens or creates the database at config.Path. An existing database
// must have been created with the same Size and PageSize.
func Open(config Config) (*FlashDB, error) {
	if err := config.checkConfig(); err != nil {
		return nil, fmt.Errorf("check flashdb config: %w", err)
	}

	log := config.Logger
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	if config.Logger != nil {
		opts.Logger = config.Logger
	}
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	f := &FlashDB{config: config, db: db, log: log}
	if err := f.checkGeometry(); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	if err := displayDiskUsage(log, config.Path); err != nil {
		log.WithError(err).Warn("disk usage unavailable")
	}
	return f, nil
}

func (f *FlashDB) checkGeometry() error {
	want := make([]byte, 16)
	binary.BigEndian.PutUint64(want, f.config.Size)
	binary.BigEndian.PutUint64(want[8:], f.config.PageSize)

	return f.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(geometryKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(geometryKey, want)
		}
		if err != nil {
			return err
		}
		have, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(have) != len(want) || binary.BigEndian.Uint64(have) != f.config.Size ||
			binary.BigEndian.Uint64(have[8:]) != f.config.PageSize {
			return fmt.Errorf("%w: database holds %x, want %x", ErrGeometryMismatch, have, want)
		}
		return nil
	})
}

func pageKey(page uint64) []byte {
	key := make([]byte, len(pagePrefix)+8)
	copy(key, pagePrefix)
	binary.BigEndian.PutUint64(key[len(pagePrefix):], page)
	return key
}

func (f *FlashDB) Size() uint64 {
	return f.config.Size
}

func (f *FlashDB) EraseSize() uint64 {
	return f.config.PageSize
}

func (f *FlashDB) ErasedValue() byte {
	return erased
}

func (f *FlashDB) inBounds(addr, n uint64) bool {
	return addr <= f.config.Size && n <= f.config.Size-addr
}

// loadPage returns the stored page or an erased one.
func (f *FlashDB) loadPage(txn *badger.Txn, page uint64) ([]byte, error) {
	atomic.AddUint64(&f.readCounter, 1)
	item, err := txn.Get(pageKey(page))
	if errors.Is(err, badger.ErrKeyNotFound) {
		buf := make([]byte, f.config.PageSize)
		for i := range buf {
			buf[i] = erased
		}
		return buf, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (f *FlashDB) Read(addr uint64, buf []byte) error {
	if !f.inBounds(addr, uint64(len(buf))) {
		return storage.IOError(storage.CodeFlashRead,
			fmt.Errorf("read %d bytes at %d", len(buf), addr))
	}
	err := f.db.View(func(txn *badger.Txn) error {
		done := 0
		for done < len(buf) {
			pos := addr + uint64(done)
			page, off := pos/f.config.PageSize, pos%f.config.PageSize
			data, err := f.loadPage(txn, page)
			if err != nil {
				return err
			}
			done += copy(buf[done:], data[off:])
		}
		return nil
	})
	if err != nil {
		return storage.IOError(storage.CodeFlashRead, err)
	}
	return nil
}

// Erase deletes the keys of all pages in [from, to).
func (f *FlashDB) Erase(from, to uint64) error {
	ps := f.config.PageSize
	if from > to || from%ps != 0 || to%ps != 0 || !f.inBounds(from, to-from) {
		return storage.IOError(storage.CodeFlashErase,
			fmt.Errorf("erase [%d, %d) with page size %d", from, to, ps))
	}

	wb := f.db.NewWriteBatch()
	defer wb.Cancel()
	for page := from / ps; page < to/ps; page++ {
		atomic.AddUint64(&f.writeCounter, 1)
		if err := wb.Delete(pageKey(page)); err != nil {
			return storage.IOError(storage.CodeFlashErase, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storage.IOError(storage.CodeFlashErase, err)
	}
	return nil
}

// Program clears bits like NOR flash: every stored byte becomes the AND of
// its old value and data.
func (f *FlashDB) Program(addr uint64, data []byte) error {
	if !f.inBounds(addr, uint64(len(data))) {
		return storage.IOError(storage.CodeFlashWrite,
			fmt.Errorf("program %d bytes at %d", len(data), addr))
	}
	err := f.db.Update(func(txn *badger.Txn) error {
		done := 0
		for done < len(data) {
			pos := addr + uint64(done)
			page, off := pos/f.config.PageSize, pos%f.config.PageSize
			buf, err := f.loadPage(txn, page)
			if err != nil {
				return err
			}
			n := 0
			for ; int(off)+n < len(buf) && done+n < len(data); n++ {
				buf[int(off)+n] &= data[done+n]
			}
			atomic.AddUint64(&f.writeCounter, 1)
			if err := txn.Set(pageKey(page), buf); err != nil {
				return err
			}
			done += n
		}
		return nil
	})
	if err != nil {
		return storage.IOError(storage.CodeFlashWrite, err)
	}
	return nil
}

// Counters returns the number of page reads and page writes served.
func (f *FlashDB) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&f.readCounter), atomic.LoadUint64(&f.writeCounter)
}

// Clean syncs the database and reclaims space from erased pages.
func (f *FlashDB) Clean() error {
	if err := f.db.Sync(); err != nil {
		return fmt.Errorf("sync db: %w", err)
	}
	if err := f.db.Flatten(runtime.NumCPU()); err != nil {
		return fmt.Errorf("flatten db: %w", err)
	}
	err := f.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("clean db: %w", err)
	}
	return nil
}

// Close cleans and closes the database.
func (f *FlashDB) Close() error {
	return errors.Join(f.Clean(), f.db.Close())
}

// Ensure FlashDB implements the Medium interface.
var _ medium.Medium = (*FlashDB)(nil)
