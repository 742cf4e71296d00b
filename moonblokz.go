/*
Package moonblokz opens block storage for a MoonBlokz node over an injected
medium.

	s, err := moonblokz.New(moonblokz.Config{
		Backend: moonblokz.BackendMemory,
		Medium:  medium.NewRAM(64 * 1024),
	})
	data, initialized, err := moonblokz.EnsureInitialized(s, key, nodeID, params)
*/
package moonblokz

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/i5heu/moonblokz-storage/internal/blockstore"
	"github.com/i5heu/moonblokz-storage/internal/checksum"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendFlash  = "flash"
	// BackendBlocks is the memory layout without a control plane.
	BackendBlocks = "blocks"
)

const (
	logKeyBackend = "backend"
	logKeySlots   = "slots"
	logKeyNodeID  = "nodeID"
	logKeyError   = "error"
)

var ErrUnknownBackend = errors.New("moonblokz: unknown backend")

// Config selects the backend. Only Backend and Medium are required.
type Config struct {
	Backend string
	Medium  medium.Medium

	// StartOffset is the first slot page of the flash backend. Zero selects
	// blockstore.DefaultStartOffset.
	StartOffset uint64
	// Hash overrides the flash slot integrity hash.
	Hash checksum.Integrity
	// NoControlPlane builds the flash layout without control-plane replicas.
	NoControlPlane bool

	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
}

// New builds the configured backend and wraps it with storage.Synchronized.
// New validates geometry but does not touch the medium.
func New(conf Config) (*storage.SynchronizedStorage, error) {
	if conf.Medium == nil {
		return nil, fmt.Errorf("%w: medium is required", storage.ErrInvalidConfiguration)
	}
	if conf.Logger == nil {
		conf.Logger = blockstore.DefaultLogger()
	}
	log := conf.Logger

	var (
		s   storage.Storage
		err error
	)
	switch conf.Backend {
	case BackendMemory:
		s, err = blockstore.NewMemory(conf.Medium, log)
	case BackendBlocks:
		s, err = blockstore.NewBlockArray(conf.Medium, log)
	case BackendFlash:
		start := conf.StartOffset
		if start == 0 && !conf.NoControlPlane {
			start = blockstore.DefaultStartOffset(conf.Medium.EraseSize())
		}
		s, err = blockstore.NewFlash(conf.Medium, blockstore.FlashConfig{
			StartOffset:    start,
			Hash:           conf.Hash,
			NoControlPlane: conf.NoControlPlane,
			Logger:         log,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, conf.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", conf.Backend, err)
	}

	ss := storage.Synchronized(s)
	log.Debug("storage opened", logKeyBackend, conf.Backend, logKeySlots, ss.SlotCount())
	return ss, nil
}

// EnsureInitialized returns the stored control data, running Init first when
// the control plane was never written. Corrupted or incompatible control
// planes are returned as errors without running Init. initialized reports
// whether Init ran.
func EnsureInitialized(
	s storage.Storage,
	privateKey [storage.PrivateKeySize]byte,
	ownNodeID uint32,
	initParams [storage.InitParamsSize]byte,
) (data storage.ControlPlaneData, initialized bool, err error) {
	data, err = s.LoadControlData()
	if err == nil {
		return data, false, nil
	}
	if !errors.Is(err, storage.ErrControlPlaneUninitialized) {
		return storage.ControlPlaneData{}, false, fmt.Errorf("load control data: %w", err)
	}

	if err := s.Init(privateKey, ownNodeID, initParams); err != nil {
		return storage.ControlPlaneData{}, false, fmt.Errorf("init storage: %w", err)
	}
	data, err = s.LoadControlData()
	if err != nil {
		return storage.ControlPlaneData{}, true, fmt.Errorf("load control data after init: %w", err)
	}
	return data, true, nil
}

// ExampleBlock builds the small block written by the lifecycle demo. Builder
// failures map to BackendIO codes 240 (payload) and 241 (build).
func ExampleBlock(creator uint32, payload []byte) (model.Block, error) {
	var signature [model.SignatureSize]byte
	for i := range signature {
		signature[i] = 1
	}
	b, err := model.NewBuilder().
		Header(model.BlockHeader{
			Version:     1,
			Sequence:    1,
			Creator:     creator,
			PayloadType: 1,
			Signature:   signature,
		}).
		Payload(payload).
		Build()
	switch {
	case errors.Is(err, model.ErrPayloadTooLarge):
		return model.Block{}, storage.IOError(storage.CodeExamplePayload, err)
	case err != nil:
		return model.Block{}, storage.IOError(storage.CodeExampleBuild, err)
	}
	return b, nil
}

// RunLifecycle initializes s when needed, saves an example block at index and
// reads it back. It reports whether the read header matches the saved one.
func RunLifecycle(
	s storage.Storage,
	index storage.StorageIndex,
	privateKey [storage.PrivateKeySize]byte,
	ownNodeID uint32,
	initParams [storage.InitParamsSize]byte,
	log *slog.Logger,
) (bool, error) {
	if log == nil {
		log = blockstore.DefaultLogger()
	}
	_, initialized, err := EnsureInitialized(s, privateKey, ownNodeID, initParams)
	if err != nil {
		log.Error("storage not usable", logKeyError, err)
		return false, err
	}
	if initialized {
		log.Info("storage initialized", logKeyNodeID, ownNodeID)
	}

	block, err := ExampleBlock(ownNodeID, []byte{1, 2, 3, 4})
	if err != nil {
		return false, err
	}
	if err := s.SaveBlock(index, block); err != nil {
		return false, fmt.Errorf("save example block: %w", err)
	}
	loaded, err := s.ReadBlock(index)
	if err != nil {
		return false, fmt.Errorf("read example block: %w", err)
	}

	want, got := block.Header(), loaded.Header()
	return want.Version == got.Version &&
		want.Sequence == got.Sequence &&
		want.Creator == got.Creator &&
		want.PayloadType == got.PayloadType, nil
}
