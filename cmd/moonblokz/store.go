package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/i5heu/moonblokz-storage"
	"github.com/i5heu/moonblokz-storage/internal/config"
	"github.com/i5heu/moonblokz-storage/internal/flashdb"
	"github.com/i5heu/moonblokz-storage/pkg/backup"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
	"github.com/sirupsen/logrus"
)

// env is an opened simulated node: the medium, the storage over it and the
// function that persists the medium when the command is done.
type env struct {
	conf  config.Config
	m     medium.Medium
	s     *storage.SynchronizedStorage
	log   *slog.Logger
	close func() error
}

// openEnv loads the persisted medium named by conf and opens storage over it.
func openEnv(conf config.Config, log *slog.Logger) (*env, error) {
	if err := os.MkdirAll(conf.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	var (
		m       medium.Medium
		closeFn func() error
		err     error
	)
	switch conf.Backend {
	case config.BackendFlash:
		m, closeFn, err = openFlashDB(conf, log)
	default:
		m, closeFn, err = openImage(conf, log)
	}
	if err != nil {
		return nil, err
	}

	s, err := moonblokz.New(moonblokz.Config{
		Backend:     conf.Backend,
		Medium:      m,
		StartOffset: conf.StartOffset,
		Logger:      log,
	})
	if err != nil {
		return nil, errors.Join(err, closeFn())
	}
	return &env{conf: conf, m: m, s: s, log: log, close: closeFn}, nil
}

func imagePath(conf config.Config) string {
	return filepath.Join(conf.DataDir, conf.Backend+".img")
}

// openImage restores a RAM medium from its image file. The returned close
// function writes the image back.
func openImage(conf config.Config, log *slog.Logger) (medium.Medium, func() error, error) {
	ram := medium.NewRAM(conf.Size)
	path := imagePath(conf)

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("no image yet, starting blank", logKeyPath, path)
	case err != nil:
		return nil, nil, fmt.Errorf("open image: %w", err)
	default:
		_, restoreErr := backup.Restore(f, ram)
		if err := errors.Join(restoreErr, f.Close()); err != nil {
			return nil, nil, fmt.Errorf("load image %s: %w", path, err)
		}
	}

	return ram, func() error { return writeImage(path, ram, backup.FormatZstd) }, nil
}

// writeImage replaces path atomically with an image of m.
func writeImage(path string, m medium.Medium, format backup.Format) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if err := backup.Dump(m, tmp, format); err != nil {
		return errors.Join(fmt.Errorf("write image: %w", err), tmp.Close(), os.Remove(tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("close image: %w", err), os.Remove(tmp.Name()))
	}
	return os.Rename(tmp.Name(), path)
}

// openFlashDB opens the badger-backed flash medium.
func openFlashDB(conf config.Config, log *slog.Logger) (medium.Medium, func() error, error) {
	kvLog := logrus.New()
	kvLog.SetOutput(os.Stderr)
	kvLog.SetLevel(logrus.WarnLevel)
	if log.Enabled(context.Background(), slog.LevelDebug) {
		kvLog.SetLevel(logrus.DebugLevel)
	}

	db, err := flashdb.Open(flashdb.Config{
		Path:             filepath.Join(conf.DataDir, "flash"),
		Size:             conf.Size,
		PageSize:         conf.PageSize,
		MinimumFreeSpace: conf.MinimumFreeSpace,
		Logger:           kvLog,
	})
	if err != nil {
		return nil, nil, err
	}
	return db, func() error {
		reads, writes := db.Counters()
		kvLog.WithFields(logrus.Fields{"reads": reads, "writes": writes}).Debug("flashdb closed")
		return db.Close()
	}, nil
}
