// Package blockstore implements the storage backends: a byte-array layout
// for RAM-like media and a page-erase layout for flash.
//
// Every backend is a slot store plus a control-plane capability. The
// capability is either the replicated record or an absent stand-in that
// rejects control-plane calls, so one backend type covers both the full
// contract and the plain block array.
package blockstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/i5heu/moonblokz-storage/internal/controlplane"
	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

const (
	logKeyIndex      = "index"
	logKeyReplica    = "replica"
	logKeySlots      = "slots"
	logKeyNodeID     = "nodeID"
	logKeyBackend    = "backend"
	logKeyError      = "error"
	logKeyBlockBytes = "bytes"
	logKeyAuthority  = "authoritative"
	logKeyPage       = "page"
	logKeySlot       = "slot"
)

// controlPlaneStore is the control-plane capability a backend holds.
type controlPlaneStore interface {
	// format writes a fresh record after the medium was erased.
	format(rec controlplane.Record) error
	setChainConfiguration(block model.Block) error
	loadControlData() (storage.ControlPlaneData, error)
}

// replicatedControlPlane keeps ControlPlaneCount copies of the record and
// repairs them on every load.
type replicatedControlPlane struct {
	replicas controlplane.Replicas
	log      *slog.Logger
}

func (c *replicatedControlPlane) format(rec controlplane.Record) error {
	if err := controlplane.WriteAll(c.replicas, rec); err != nil {
		return err
	}
	c.log.Info("control plane formatted", logKeyNodeID, rec.OwnNodeID)
	return nil
}

func (c *replicatedControlPlane) load() (controlplane.Record, error) {
	rec, report, err := controlplane.Load(c.replicas)
	for i, failure := range report.Failures {
		if report.Authoritative >= 0 {
			c.log.Warn("control plane replica invalid",
				logKeyReplica, i, logKeyError, failure)
		}
	}
	for _, i := range report.Repaired {
		c.log.Warn("control plane replica repaired",
			logKeyReplica, i, logKeyAuthority, report.Authoritative)
	}
	if err != nil {
		return controlplane.Record{}, err
	}
	return rec, nil
}

func (c *replicatedControlPlane) setChainConfiguration(block model.Block) error {
	if err := checkBlock(block); err != nil {
		return err
	}
	rec, err := c.load()
	if err != nil {
		return err
	}
	if rec.ChainConfiguration != nil {
		return storage.ErrChainConfigurationAlreadySet
	}
	if block.Len() > model.MaxBlockSize {
		return storage.IOError(storage.CodeOversizedBlock,
			fmt.Errorf("chain configuration of %d bytes", block.Len()))
	}
	rec.ChainConfiguration = &block
	if err := controlplane.WriteAll(c.replicas, rec); err != nil {
		return fmt.Errorf("write chain configuration: %w", err)
	}
	return nil
}

func (c *replicatedControlPlane) loadControlData() (storage.ControlPlaneData, error) {
	rec, err := c.load()
	if err != nil {
		return storage.ControlPlaneData{}, err
	}
	return rec.Data(), nil
}

// absentControlPlane is the capability of a backend without a control
// plane. Formatting is a no-op; everything else is unsupported.
type absentControlPlane struct{}

var errNoControlPlane = storage.IOError(storage.CodeControlPlaneUnsupported,
	errors.New("backend has no control plane"))

func (absentControlPlane) format(controlplane.Record) error {
	return nil
}

func (absentControlPlane) setChainConfiguration(model.Block) error {
	return errNoControlPlane
}

func (absentControlPlane) loadControlData() (storage.ControlPlaneData, error) {
	return storage.ControlPlaneData{}, errNoControlPlane
}

func newRecord(
	privateKey [storage.PrivateKeySize]byte,
	ownNodeID uint32,
	initParams [storage.InitParamsSize]byte,
) controlplane.Record {
	return controlplane.Record{
		PrivateKey: privateKey,
		OwnNodeID:  ownNodeID,
		InitParams: initParams,
	}
}

var errZeroBlock = errors.New("zero block")

// checkBlock rejects the zero Block. Every other Block value comes from
// model.FromBytes or model.Builder and is valid.
func checkBlock(block model.Block) error {
	if block.IsZero() {
		return storage.IOError(storage.CodeInvalidBlock, errZeroBlock)
	}
	return nil
}

// mediumError attaches op to a medium failure. Errors that already carry a
// diagnostic code keep it; anything else gets code.
func mediumError(code uint16, op string, err error) error {
	if _, ok := storage.IOCode(err); ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return storage.IOError(code, fmt.Errorf("%s: %w", op, err))
}

// DefaultLogger returns the logger used when none is injected: text on
// stderr at Info level.
func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
