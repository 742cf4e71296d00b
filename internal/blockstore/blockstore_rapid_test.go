package blockstore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/i5heu/moonblokz-storage/internal/controlplane"
	"github.com/i5heu/moonblokz-storage/internal/testutil"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
	"pgregory.net/rapid"
)

// Generators

func genBlock(t *rapid.T) model.Block {
	n := rapid.IntRange(0, model.MaxPayloadSize).Draw(t, "payloadLen")
	b, err := model.NewBuilder().
		Header(model.BlockHeader{
			Version:     rapid.Uint8Range(1, 255).Draw(t, "version"),
			Sequence:    rapid.Uint32().Draw(t, "sequence"),
			Creator:     rapid.Uint32().Draw(t, "creator"),
			PayloadType: rapid.Uint8().Draw(t, "payloadType"),
		}).
		Payload(rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "payload")).
		Build()
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	return b
}

func genIdentity(t *rapid.T) controlplane.Record {
	var rec controlplane.Record
	copy(rec.PrivateKey[:], rapid.SliceOfN(rapid.Byte(), storage.PrivateKeySize, storage.PrivateKeySize).Draw(t, "privateKey"))
	copy(rec.InitParams[:], rapid.SliceOfN(rapid.Byte(), storage.InitParamsSize, storage.InitParamsSize).Draw(t, "initParams"))
	rec.OwnNodeID = rapid.Uint32().Draw(t, "ownNodeID")
	return rec
}

// BackendStateMachine checks a backend against a map of expected slots and
// the expected control-plane record.
type BackendStateMachine struct {
	// Model state
	initialized bool
	identity    controlplane.Record
	blocks      map[storage.StorageIndex][]byte

	// SUT state
	backend storage.Storage
	slots   uint64
	// damage flips one byte of replica i on the raw medium.
	damage func(replica, offset int)
}

func (m *BackendStateMachine) Init(t *rapid.T) {
	m.identity = genIdentity(t)
	m.blocks = map[storage.StorageIndex][]byte{}
	m.slots = m.backend.(storage.Sized).SlotCount()
	m.initialized = true

	err := m.backend.Init(m.identity.PrivateKey, m.identity.OwnNodeID, m.identity.InitParams)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
}

// Check consistency
func (m *BackendStateMachine) Check(t *rapid.T) {
	data, err := m.backend.LoadControlData()
	if err != nil {
		t.Fatalf("LoadControlData failed: %v", err)
	}
	want := m.identity.Data()
	if data.OwnNodeID != want.OwnNodeID || data.PrivateKey != want.PrivateKey || data.InitParams != want.InitParams {
		t.Fatalf("control data %+v, want %+v", data, want)
	}
	if (data.ChainConfiguration == nil) != (want.ChainConfiguration == nil) {
		t.Fatalf("chain configuration presence mismatch")
	}
	if want.ChainConfiguration != nil &&
		!bytes.Equal(data.ChainConfiguration.Bytes(), want.ChainConfiguration.Bytes()) {
		t.Fatalf("chain configuration differs")
	}
}

func (m *BackendStateMachine) drawIndex(t *rapid.T) storage.StorageIndex {
	// one past the end exercises the invalid index path
	return storage.StorageIndex(rapid.Uint64Range(0, m.slots).Draw(t, "index"))
}

// Action: SaveBlock
func (m *BackendStateMachine) SaveBlock(t *rapid.T) {
	index := m.drawIndex(t)
	block := genBlock(t)

	err := m.backend.SaveBlock(index, block)
	if uint64(index) >= m.slots {
		if !errors.Is(err, storage.ErrInvalidIndex) {
			t.Fatalf("SaveBlock(%d) = %v, want invalid index", index, err)
		}
		return
	}
	if err != nil {
		t.Fatalf("SaveBlock(%d) failed: %v", index, err)
	}
	m.blocks[index] = block.Bytes()
}

// Action: ReadBlock
func (m *BackendStateMachine) ReadBlock(t *rapid.T) {
	index := m.drawIndex(t)

	got, err := m.backend.ReadBlock(index)
	want, saved := m.blocks[index]
	switch {
	case uint64(index) >= m.slots:
		if !errors.Is(err, storage.ErrInvalidIndex) {
			t.Fatalf("ReadBlock(%d) = %v, want invalid index", index, err)
		}
	case !saved:
		if !errors.Is(err, storage.ErrBlockAbsent) {
			t.Fatalf("ReadBlock(%d) = %v, want absent", index, err)
		}
	case err != nil:
		t.Fatalf("ReadBlock(%d) failed: %v", index, err)
	case !bytes.Equal(got.Bytes(), want):
		t.Fatalf("ReadBlock(%d) returned different bytes", index)
	}
}

// Action: SetChainConfiguration
func (m *BackendStateMachine) SetChainConfiguration(t *rapid.T) {
	block := genBlock(t)

	err := m.backend.SetChainConfiguration(block)
	if m.identity.ChainConfiguration != nil {
		if !errors.Is(err, storage.ErrChainConfigurationAlreadySet) {
			t.Fatalf("second SetChainConfiguration = %v", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("SetChainConfiguration failed: %v", err)
	}
	m.identity.ChainConfiguration = &block
}

// Action: DamageReplica
func (m *BackendStateMachine) DamageReplica(t *rapid.T) {
	replica := rapid.IntRange(0, storage.ControlPlaneCount-1).Draw(t, "replica")
	offset := rapid.IntRange(0, controlplane.EntrySize-1).Draw(t, "offset")
	m.damage(replica, offset)
	// Check runs next and has to repair the replica.
}

// Action: Reinit
func (m *BackendStateMachine) Reinit(t *rapid.T) {
	m.Init(t)
}

func runBackendProperty(t *testing.T, open func() (storage.Storage, func(replica, offset int))) {
	rapid.Check(t, func(t *rapid.T) {
		backend, damage := open()
		m := &BackendStateMachine{backend: backend, damage: damage}
		m.Init(t)

		t.Repeat(map[string]func(*rapid.T){
			"SaveBlock": func(t *rapid.T) {
				m.SaveBlock(t)
				m.Check(t)
			},
			"ReadBlock": func(t *rapid.T) {
				m.ReadBlock(t)
				m.Check(t)
			},
			"SetChainConfiguration": func(t *rapid.T) {
				m.SetChainConfiguration(t)
				m.Check(t)
			},
			"DamageReplica": func(t *rapid.T) {
				m.DamageReplica(t)
				m.Check(t)
			},
			"Reinit": func(t *rapid.T) {
				m.Reinit(t)
				m.Check(t)
			},
		})
	})
}

// propertyPages sizes the media of the property tests. -long widens them.
func propertyPages() uint64 {
	if testutil.IsLongEnabled() {
		return 16
	}
	return 2
}

func TestMemoryBackendProperty(t *testing.T) {
	runBackendProperty(t, func() (storage.Storage, func(int, int)) {
		ram := medium.NewRAM(memorySize(2*propertyPages() - 1))
		b, err := NewMemory(ram, testLogger())
		if err != nil {
			t.Fatalf("NewMemory: %v", err)
		}
		return b, func(replica, offset int) {
			ram.Bytes()[replica*controlplane.EntrySize+offset] ^= 0xFF
		}
	})
}

func TestFlashBackendProperty(t *testing.T) {
	runBackendProperty(t, func() (storage.Storage, func(int, int)) {
		f, err := medium.NewMockFlash((storage.ControlPlaneCount+propertyPages())*pageSize, pageSize)
		if err != nil {
			t.Fatalf("NewMockFlash: %v", err)
		}
		b, err := NewFlash(f, FlashConfig{StartOffset: DefaultStartOffset(pageSize), Logger: testLogger()})
		if err != nil {
			t.Fatalf("NewFlash: %v", err)
		}
		return b, func(replica, offset int) {
			addr := replica*pageSize + offset
			f.Poke(uint64(addr), []byte{f.Bytes()[addr] ^ 0xFF})
		}
	})
}
