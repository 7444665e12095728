package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/HBNetNetworks/fortinet-wrapper/internal/config"
	"github.com/HBNetNetworks/fortinet-wrapper/internal/domain"
	"github.com/HBNetNetworks/fortinet-wrapper/internal/inventory"
	"github.com/HBNetNetworks/fortinet-wrapper/internal/logger"
	"github.com/HBNetNetworks/fortinet-wrapper/internal/storage"
	"github.com/HBNetNetworks/fortinet-wrapper/pkg/fortios"
)

// Collector reads system and interface data from every enabled device,
// archives each report, and writes it to out. With cfg.Last set it prints
// the archived reports instead of contacting the devices.
type Collector struct {
	cfg        *config.Config
	devices    *inventory.Registry
	store      storage.Store
	out        io.Writer
	log        logger.Logger
	clientOpts []fortios.Option
}

// NewCollector builds a collector runtime from config.
func NewCollector(cfg *config.Config, log logger.Logger, out io.Writer) (*Collector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if out == nil {
		out = io.Discard
	}

	var (
		devices *inventory.Registry
		err     error
	)
	if cfg.DevicesFile != "" {
		devices, err = inventory.LoadRegistry(cfg.DevicesFile)
	} else {
		devices, err = inventory.FromConfig(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}

	summaries := make([]map[string]any, 0, len(devices.All()))
	for _, d := range devices.Enabled() {
		summaries = append(summaries, d.Summary())
	}
	log.InfoObj("devices loaded", "devices_meta", map[string]any{
		"count":   len(summaries),
		"devices": summaries,
	})

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		SnapshotTTL:     cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"snapshot_ttl_seconds":     int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	return &Collector{
		cfg:     cfg,
		devices: devices,
		store:   store,
		out:     out,
		log:     log,
	}, nil
}

// Run collects every enabled device once. A failing device does not stop the
// others; all failures are returned joined.
func (c *Collector) Run(ctx context.Context) error {
	if c == nil || c.devices == nil {
		return fmt.Errorf("collector is not initialized")
	}
	defer c.closeStore()

	devices := c.devices.Enabled()
	if len(devices) == 0 {
		c.log.WarnObj("no devices enabled; nothing to collect", "devices_file", c.cfg.DevicesFile)
		return nil
	}

	if c.cfg.Last {
		return c.printArchived(devices)
	}

	start := time.Now()
	var errs []error
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.runDevice(ctx, d); err != nil {
			errs = append(errs, err)
			c.log.ErrorObj("device collection failed", "device_error", map[string]any{
				"device_id": d.ID,
				"error":     err.Error(),
			})
		}
	}

	c.log.InfoObj("collection completed", "collection_meta", map[string]any{
		"devices_count": len(devices),
		"failed_count":  len(errs),
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})
	return errors.Join(errs...)
}

func (c *Collector) runDevice(ctx context.Context, d inventory.Device) error {
	report, err := c.collect(ctx, d)
	if err != nil {
		return fmt.Errorf("collect device %s: %w", d.ID, err)
	}

	if err := c.store.Save(report); err != nil {
		return fmt.Errorf("archive device %s: %w", d.ID, err)
	}
	if err := writeReport(c.out, c.cfg.OutputFormat, report); err != nil {
		return fmt.Errorf("write report for device %s: %w", d.ID, err)
	}

	c.log.InfoObj("device collected", "device_result", map[string]any{
		"device_id":  d.ID,
		"hostname":   report.Hostname,
		"serial":     report.Serial,
		"interfaces": len(report.Interfaces),
	})
	return nil
}

func (c *Collector) collect(ctx context.Context, d inventory.Device) (domain.Report, error) {
	opts := append([]fortios.Option{
		fortios.WithVerifySSL(d.VerifySSLValue()),
		fortios.WithLogger(c.log),
	}, c.clientOpts...)

	client, err := fortios.New(ctx, d.BaseURL, d.APIKey, d.FortiOSVersion(), opts...)
	if err != nil {
		return domain.Report{}, err
	}
	c.log.DebugObj("device client ready", "device_client", client.String())

	report := domain.Report{
		DeviceID:   d.ID,
		BaseURL:    client.BaseURL(),
		APIVersion: client.Version().String(),
	}
	if report.Hostname, err = client.Hostname(ctx); err != nil {
		return domain.Report{}, err
	}
	if report.Serial, err = client.Serial(ctx); err != nil {
		return domain.Report{}, err
	}
	if report.FirmwareVersion, err = client.FirmwareVersion(ctx); err != nil {
		return domain.Report{}, err
	}

	interfaces, err := client.Interface(ctx, c.cfg.Interface)
	if err != nil {
		return domain.Report{}, err
	}
	report.Interfaces = make([]domain.InterfaceEntry, 0, len(interfaces))
	for _, raw := range interfaces {
		report.Interfaces = append(report.Interfaces, domain.NewInterfaceEntry(raw))
	}
	report.CollectedAt = time.Now().UTC()
	return report, nil
}

// printArchived writes the latest archived report of every device.
func (c *Collector) printArchived(devices []inventory.Device) error {
	var errs []error
	for _, d := range devices {
		report, found, err := c.store.Latest(d.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("read archive for device %s: %w", d.ID, err))
			continue
		}
		if !found {
			c.log.WarnObj("no archived report", "device_id", d.ID)
			continue
		}
		if err := writeReport(c.out, c.cfg.OutputFormat, report); err != nil {
			errs = append(errs, fmt.Errorf("write report for device %s: %w", d.ID, err))
		}
	}
	return errors.Join(errs...)
}

// closeStore safely closes the storage backend, logging any errors encountered.
func (c *Collector) closeStore() {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Close(); err != nil {
		c.log.ErrorObj("storage close failed", "error", err)
	}
}
