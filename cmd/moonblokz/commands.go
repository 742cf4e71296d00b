package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/moonblokz-storage"
	"github.com/i5heu/moonblokz-storage/internal/config"
	"github.com/i5heu/moonblokz-storage/pkg/backup"
	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

type command func(e *env, args []string, out io.Writer) error

var commands = map[string]struct {
	run   command
	nargs []int
}{
	"info":       {cmdInfo, []int{0}},
	"init":       {cmdInit, []int{0}},
	"save":       {cmdSave, []int{2}},
	"read":       {cmdRead, []int{1}},
	"scan":       {cmdScan, []int{0}},
	"control":    {cmdControl, []int{0}},
	"set-config": {cmdSetConfig, []int{1}},
	"demo":       {cmdDemo, []int{0}},
	"export":     {cmdExport, []int{1, 2}},
	"import":     {cmdImport, []int{1}},
}

// run executes one command against the persisted medium described by conf
// and persists the medium afterwards, also when the command failed.
func run(conf config.Config, args []string, out io.Writer, log *slog.Logger) (err error) {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok || !validArgCount(cmd.nargs, len(args)-1) {
		return errUsage
	}

	log.Debug("opening storage",
		logKeyBackend, conf.Backend,
		logKeyDataDir, conf.DataDir,
		logKeyCommand, args[0])
	e, err := openEnv(conf, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := e.close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("persist medium: %w", closeErr))
		}
	}()

	return cmd.run(e, args[1:], out)
}

func validArgCount(allowed []int, n int) bool {
	for _, a := range allowed {
		if a == n {
			return true
		}
	}
	return false
}

func parseIndex(s string) (storage.StorageIndex, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse index %q: %w", s, err)
	}
	return storage.StorageIndex(v), nil
}

// controlState describes LoadControlData's outcome in one word.
func controlState(err error) string {
	switch {
	case err == nil:
		return "initialized"
	case errors.Is(err, storage.ErrControlPlaneUninitialized):
		return "uninitialized"
	case errors.Is(err, storage.ErrControlPlaneCorrupted):
		return "corrupted"
	case errors.Is(err, storage.ErrControlPlaneIncompatible):
		return "incompatible"
	}
	if code, ok := storage.IOCode(err); ok && code == storage.CodeControlPlaneUnsupported {
		return "none"
	}
	return "error: " + err.Error()
}

func cmdInfo(e *env, _ []string, out io.Writer) error {
	_, cpErr := e.s.LoadControlData()

	fmt.Fprintf(out, "backend:        %s\n", e.conf.Backend)
	fmt.Fprintf(out, "medium:         %s (%d bytes)\n", humanize.IBytes(e.m.Size()), e.m.Size())
	fmt.Fprintf(out, "erase size:     %s\n", humanize.IBytes(e.m.EraseSize()))
	fmt.Fprintf(out, "slots:          %s\n", humanize.Comma(int64(e.s.SlotCount())))
	fmt.Fprintf(out, "block capacity: %s\n", humanize.IBytes(e.s.SlotCount()*model.MaxBlockSize))
	fmt.Fprintf(out, "control plane:  %s\n", controlState(cpErr))
	return nil
}

func cmdInit(e *env, _ []string, out io.Writer) error {
	key, err := e.conf.Node.Key()
	if err != nil {
		return err
	}
	params, err := e.conf.Node.Params()
	if err != nil {
		return err
	}
	if err := e.s.Init(key, e.conf.Node.OwnNodeID, params); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	e.log.Info("storage initialized", logKeyNodeID, e.conf.Node.OwnNodeID)
	fmt.Fprintf(out, "initialized %d slots for node %d\n", e.s.SlotCount(), e.conf.Node.OwnNodeID)
	return nil
}

// buildBlock builds a block created by the configured node.
func buildBlock(e *env, sequence uint32, payloadType uint8, payload string) (model.Block, error) {
	return model.NewBuilder().
		Header(model.BlockHeader{
			Version:     1,
			Sequence:    sequence,
			Creator:     e.conf.Node.OwnNodeID,
			PayloadType: payloadType,
		}).
		Payload([]byte(payload)).
		Build()
}

func cmdSave(e *env, args []string, out io.Writer) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	block, err := buildBlock(e, index, 1, args[1])
	if err != nil {
		return fmt.Errorf("build block: %w", err)
	}
	if err := e.s.SaveBlock(index, block); err != nil {
		return fmt.Errorf("save block %d: %w", index, err)
	}
	e.log.Debug("block saved", logKeyIndex, index)
	fmt.Fprintf(out, "saved %s block in slot %d\n", humanize.IBytes(uint64(block.Len())), index)
	return nil
}

func printBlock(out io.Writer, b model.Block) {
	h := b.Header()
	fmt.Fprintf(out, "version:      %d\n", h.Version)
	fmt.Fprintf(out, "sequence:     %d\n", h.Sequence)
	fmt.Fprintf(out, "creator:      %d\n", h.Creator)
	fmt.Fprintf(out, "payload type: %d\n", h.PayloadType)
	fmt.Fprintf(out, "size:         %d bytes\n", b.Len())
	fmt.Fprintf(out, "payload:      %q\n", b.Payload())
}

func cmdRead(e *env, args []string, out io.Writer) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	b, err := e.s.ReadBlock(index)
	if err != nil {
		return fmt.Errorf("read block %d: %w", index, err)
	}
	printBlock(out, b)
	return nil
}

func cmdScan(e *env, _ []string, out io.Writer) error {
	var occupied, absent, damaged int
	for i := uint64(0); i < e.s.SlotCount(); i++ {
		b, err := e.s.ReadBlock(storage.StorageIndex(i))
		switch {
		case err == nil:
			occupied++
			fmt.Fprintf(out, "%6d  sequence %d, %d bytes\n", i, b.Header().Sequence, b.Len())
		case errors.Is(err, storage.ErrBlockAbsent):
			absent++
		default:
			damaged++
			fmt.Fprintf(out, "%6d  %v\n", i, err)
		}
	}
	fmt.Fprintf(out, "%d occupied, %d absent, %d damaged\n", occupied, absent, damaged)
	return nil
}

func cmdControl(e *env, _ []string, out io.Writer) error {
	data, err := e.s.LoadControlData()
	if err != nil {
		return fmt.Errorf("load control data: %w", err)
	}
	fmt.Fprintf(out, "version:     %d\n", data.Version)
	fmt.Fprintf(out, "node id:     %d\n", data.OwnNodeID)
	fmt.Fprintf(out, "private key: %s...\n", hex.EncodeToString(data.PrivateKey[:4]))
	fmt.Fprintf(out, "init params: %s\n", hex.EncodeToString(data.InitParams[:]))
	if data.ChainConfiguration == nil {
		fmt.Fprintln(out, "chain configuration: not set")
		return nil
	}
	fmt.Fprintln(out, "chain configuration:")
	printBlock(out, *data.ChainConfiguration)
	return nil
}

func cmdSetConfig(e *env, args []string, out io.Writer) error {
	block, err := buildBlock(e, 0, 0, args[0])
	if err != nil {
		return fmt.Errorf("build chain configuration: %w", err)
	}
	if err := e.s.SetChainConfiguration(block); err != nil {
		return fmt.Errorf("set chain configuration: %w", err)
	}
	fmt.Fprintln(out, "chain configuration stored")
	return nil
}

func cmdDemo(e *env, _ []string, out io.Writer) error {
	key, err := e.conf.Node.Key()
	if err != nil {
		return err
	}
	params, err := e.conf.Node.Params()
	if err != nil {
		return err
	}
	ok, err := moonblokz.RunLifecycle(e.s, 0, key, e.conf.Node.OwnNodeID, params, e.log)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("read block differs from saved block")
	}
	fmt.Fprintln(out, "block save/read flow completed")
	return nil
}

func cmdExport(e *env, args []string, out io.Writer) error {
	format := backup.FormatZstd
	if len(args) == 2 {
		f, err := backup.ParseFormat(args[1])
		if err != nil {
			return err
		}
		format = f
	}
	if err := writeImage(args[0], e.m, format); err != nil {
		return err
	}
	e.log.Info("medium exported", logKeyPath, args[0], logKeyFormat, format.String())
	fmt.Fprintf(out, "exported %s as %s\n", humanize.IBytes(e.m.Size()), format)
	return nil
}

func cmdImport(e *env, args []string, out io.Writer) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	h, err := backup.Restore(f, e.m)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	e.log.Info("medium imported", logKeyPath, args[0], logKeyFormat, h.Format.String())
	fmt.Fprintf(out, "imported %s %s image\n", humanize.IBytes(h.Size), h.Format)
	return nil
}
