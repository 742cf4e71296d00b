package controlplane

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// Replicas gives access to the ControlPlaneCount stored entries.
type Replicas interface {
	// ReadReplica returns the EntrySize bytes of replica i.
	ReadReplica(i int) ([]byte, error)
	// WriteReplica replaces replica i with entry.
	WriteReplica(i int, entry []byte) error
	// ErasedValue is the byte value of a never-written replica.
	ErasedValue() byte
}

// Report describes what Load found and fixed.
type Report struct {
	// Authoritative is the replica the record was taken from, -1 if none.
	Authoritative int
	// Repaired lists the replicas that were rewritten.
	Repaired []int
	// Failures holds the decode error of every replica that did not decode.
	Failures map[int]error
}

// Load scans all replicas in index order, takes the first one that decodes
// as authoritative and rewrites every other replica that differs from it.
//
// Without any valid replica the error is ErrControlPlaneIncompatible if any
// replica was incompatible, else ErrControlPlaneCorrupted if any was
// corrupted, else ErrControlPlaneUninitialized. Medium errors abort the scan.
func Load(r Replicas) (Record, Report, error) {
	report := Report{Authoritative: -1, Failures: map[int]error{}}

	var (
		record  Record
		raw     [storage.ControlPlaneCount][]byte
		decoded [storage.ControlPlaneCount]bool
	)
	for i := 0; i < storage.ControlPlaneCount; i++ {
		entry, err := r.ReadReplica(i)
		if err != nil {
			return Record{}, report, fmt.Errorf("read replica %d: %w", i, err)
		}
		raw[i] = entry

		rec, err := Decode(entry, r.ErasedValue())
		if err != nil {
			report.Failures[i] = err
			continue
		}
		decoded[i] = true
		if report.Authoritative < 0 {
			report.Authoritative = i
			record = rec
		}
	}

	if report.Authoritative < 0 {
		return Record{}, report, worstFailure(report.Failures)
	}

	encoded, err := Encode(record)
	if err != nil {
		return Record{}, report, err
	}
	for i := 0; i < storage.ControlPlaneCount; i++ {
		if i == report.Authoritative {
			continue
		}
		if decoded[i] && bytes.Equal(raw[i], encoded) {
			continue
		}
		if err := r.WriteReplica(i, encoded); err != nil {
			return Record{}, report, fmt.Errorf("repair replica %d: %w", i, err)
		}
		report.Repaired = append(report.Repaired, i)
	}
	return record, report, nil
}

// WriteAll writes record to every replica.
func WriteAll(r Replicas, record Record) error {
	encoded, err := Encode(record)
	if err != nil {
		return err
	}
	for i := 0; i < storage.ControlPlaneCount; i++ {
		if err := r.WriteReplica(i, encoded); err != nil {
			return fmt.Errorf("write replica %d: %w", i, err)
		}
	}
	return nil
}

func worstFailure(failures map[int]error) error {
	var corrupted bool
	for _, err := range failures {
		if errors.Is(err, storage.ErrControlPlaneIncompatible) {
			return storage.ErrControlPlaneIncompatible
		}
		if errors.Is(err, storage.ErrControlPlaneCorrupted) {
			corrupted = true
		}
	}
	if corrupted {
		return storage.ErrControlPlaneCorrupted
	}
	return storage.ErrControlPlaneUninitialized
}
