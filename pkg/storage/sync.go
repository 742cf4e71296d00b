package storage

import (
	"sync"

	"github.com/i5heu/moonblokz-storage/pkg/model"
)

// SynchronizedStorage serializes all calls to one backend.
type SynchronizedStorage struct {
	mu sync.RWMutex
	s  Storage
}

// Synchronized wraps s so it can be shared between goroutines. ReadBlock takes
// the read lock; everything else, including LoadControlData which may repair
// replicas, takes the write lock.
func Synchronized(s Storage) *SynchronizedStorage {
	if already, ok := s.(*SynchronizedStorage); ok {
		return already
	}
	return &SynchronizedStorage{s: s}
}

// Unwrap returns the wrapped backend.
func (ss *SynchronizedStorage) Unwrap() Storage {
	return ss.s
}

func (ss *SynchronizedStorage) Init(
	privateKey [PrivateKeySize]byte,
	ownNodeID uint32,
	initParams [InitParamsSize]byte,
) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.Init(privateKey, ownNodeID, initParams)
}

func (ss *SynchronizedStorage) SaveBlock(index StorageIndex, block model.Block) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.SaveBlock(index, block)
}

func (ss *SynchronizedStorage) ReadBlock(index StorageIndex) (model.Block, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.s.ReadBlock(index)
}

func (ss *SynchronizedStorage) SetChainConfiguration(block model.Block) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.SetChainConfiguration(block)
}

func (ss *SynchronizedStorage) LoadControlData() (ControlPlaneData, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.LoadControlData()
}

// SlotCount forwards to the wrapped backend when it implements Sized.
func (ss *SynchronizedStorage) SlotCount() uint64 {
	if sized, ok := ss.s.(Sized); ok {
		return sized.SlotCount()
	}
	return 0
}

// Ensure SynchronizedStorage implements the Storage interface.
var _ Storage = (*SynchronizedStorage)(nil)
