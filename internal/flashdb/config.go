package flashdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

func (c *Config) checkConfig() error {
	if c.Path == "" {
		return errors.New("no path provided in configuration")
	}
	if c.PageSize == 0 || c.Size == 0 || c.Size%c.PageSize != 0 {
		return fmt.Errorf("%w: size %d is not a multiple of page size %d",
			storage.ErrInvalidConfiguration, c.Size, c.PageSize)
	}

	if err := os.MkdirAll(c.Path, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", c.Path, err)
	}
	info, err := os.Stat(c.Path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	if c.MinimumFreeSpace == 0 {
		return nil
	}
	usage, err := disk.Usage(c.Path)
	if err != nil {
		return fmt.Errorf("disk usage of %s: %w", c.Path, err)
	}
	if usage.Free < c.MinimumFreeSpace {
		return fmt.Errorf("not enough space available on disk: %s free, %s required",
			humanize.IBytes(usage.Free), humanize.IBytes(c.MinimumFreeSpace))
	}
	return nil
}

// displayDiskUsage logs the volume statistics of path.
func displayDiskUsage(log *logrus.Logger, path string) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"path":  path,
		"fs":    usage.Fstype,
		"total": humanize.IBytes(usage.Total),
		"used":  humanize.IBytes(usage.Used),
		"free":  humanize.IBytes(usage.Free),
	}).Debug("Disk Usage")
	return nil
}
