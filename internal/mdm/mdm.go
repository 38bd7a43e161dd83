// Package mdm implements the Multi-Database Manager: it owns the data root,
// bounds the number of concurrently-open VSMs, runs periodic maintenance
// (clearing expired versions), and enforces a total disk-usage ceiling.
package mdm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/vkvstore/internal/config"
	"github.com/kartikbazzad/vkvstore/internal/dbname"
	vkverrors "github.com/kartikbazzad/vkvstore/internal/errors"
	"github.com/kartikbazzad/vkvstore/internal/fvr"
	"github.com/kartikbazzad/vkvstore/internal/logger"
	"github.com/kartikbazzad/vkvstore/internal/metrics"
	"github.com/kartikbazzad/vkvstore/internal/serde"
	"github.com/kartikbazzad/vkvstore/internal/vsm"
)

// MDM owns the data root directory and a bounded cache of resident VSMs.
// It is generic over the same key/value types every VSM it hosts uses.
type MDM[K, V any] struct {
	dataDir string
	cfg     *config.Config
	ks      serde.Serde[K]
	vs      serde.Serde[V]
	log     *logger.Logger

	mu    sync.Mutex
	cache *expirable.LRU[string, *vsm.VSM[K, V]]

	maintWg     sync.WaitGroup
	maintStopCh chan struct{}
	maintPool   *ants.PoolWithFunc
	maintPoolMu sync.Mutex
}

// New validates and creates the data root, then starts the background
// maintenance loop. Close must be called to stop it and release resident
// VSMs.
func New[K, V any](cfg *config.Config, ks serde.Serde[K], vs serde.Serde[V], log *logger.Logger) (*MDM[K, V], error) {
	const op = "mdm.New"
	if log == nil {
		log = logger.Default()
	}
	log = log.With("mdm")
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Normalize()

	if cfg.DataDir == "" {
		return nil, vkverrors.New(vkverrors.ConfigError, op, fmt.Errorf("data_dir must not be empty"))
	}
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.DataDir, 0o755); mkErr != nil {
				return nil, vkverrors.New(vkverrors.ConfigError, op, mkErr)
			}
		} else {
			return nil, vkverrors.New(vkverrors.ConfigError, op, err)
		}
	} else if !info.IsDir() {
		return nil, vkverrors.New(vkverrors.ConfigError, op, fmt.Errorf("data_dir %q is not a directory", cfg.DataDir))
	}

	m := &MDM[K, V]{
		dataDir:     cfg.DataDir,
		cfg:         cfg,
		ks:          ks,
		vs:          vs,
		log:         log,
		maintStopCh: make(chan struct{}),
	}

	m.cache = expirable.NewLRU[string, *vsm.VSM[K, V]](cfg.MDM.MaxOpenDB, func(name string, v *vsm.VSM[K, V]) {
		if v == nil {
			return
		}
		if err := v.Close(); err != nil {
			m.log.Warn("mdm: error closing evicted VSM %q: %v", name, err)
		}
		metrics.VSMEvictions.Inc()
	}, cfg.MDM.MaxIdleTime)

	m.maintWg.Add(1)
	go m.maintenanceLoop()

	return m, nil
}

// GetDB fetches or loads the VSM for name. A blank name returns (nil,
// false); a load failure is logged and also returns (nil, false) without
// populating the cache.
func (m *MDM[K, V]) GetDB(name string) (*vsm.VSM[K, V], bool) {
	if name == "" {
		return nil, false
	}
	if v, ok := m.cache.Get(name); ok {
		return v, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.cache.Get(name); ok {
		return v, true
	}

	if err := dbname.ValidateDBName(name); err != nil {
		m.log.Warn("mdm: get_db(%q) rejected: %v", name, err)
		return nil, false
	}

	v, err := m.load(name)
	if err != nil {
		m.log.Warn("mdm: get_db(%q) failed to load: %v", name, err)
		return nil, false
	}
	m.cache.Add(name, v)
	return v, true
}

func (m *MDM[K, V]) load(name string) (*vsm.VSM[K, V], error) {
	dir := filepath.Join(m.dataDir, name)
	vcfg := vsm.Config{
		RecordCapacity:      m.cfg.VSM.DBVersionCount,
		MaxOpenHandles:      m.cfg.VSM.MaxOpenHandles,
		HandleIdleTimeout:   m.cfg.VSM.HandleIdleTimeout,
		VersionClearTimeout: m.cfg.VSM.VersionClearTimeout,
	}
	return vsm.Open(dir, m.ks, m.vs, vcfg, m.log)
}

// CreateAndFill fetches or loads the VSM for name, publishes a new version
// via producer, then enforces the disk quota.
func (m *MDM[K, V]) CreateAndFill(name string, producer vsm.Producer[K, V]) error {
	if err := dbname.ValidateDBName(name); err != nil {
		return err
	}

	m.mu.Lock()
	v, ok := m.cache.Get(name)
	if !ok {
		loaded, err := m.load(name)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.cache.Add(name, loaded)
		v = loaded
	}
	m.mu.Unlock()

	installed, err := v.WriteOnce(producer)
	if err != nil {
		metrics.WritesTotal.WithLabelValues(name, "error").Inc()
		return err
	}
	if installed {
		metrics.WritesTotal.WithLabelValues(name, "installed").Inc()
	} else {
		metrics.WritesTotal.WithLabelValues(name, "not_installed").Inc()
	}

	m.EnforceDiskQuota()
	return nil
}

// maintenanceLoop runs VSM.Clear() on every resident VSM at cfg.CleanTaskDelay
// then every cfg.CleanTaskPeriod, bounded by an ants worker pool.
func (m *MDM[K, V]) maintenanceLoop() {
	defer m.maintWg.Done()

	timer := time.NewTimer(m.cfg.MDM.CleanTaskDelay)
	defer timer.Stop()

	for {
		select {
		case <-m.maintStopCh:
			return
		case <-timer.C:
			m.runMaintenance()
			timer.Reset(m.cfg.MDM.CleanTaskPeriod)
		}
	}
}

func (m *MDM[K, V]) runMaintenance() {
	pool := m.getMaintPool()
	names := m.cache.Keys()

	var wg sync.WaitGroup
	for _, name := range names {
		v, ok := m.cache.Peek(name)
		if !ok {
			continue
		}
		wg.Add(1)
		task := &clearTask[K, V]{vsm: v, name: name, wg: &wg}
		if pool == nil || pool.Invoke(task) != nil {
			m.clearOne(task)
		}
	}
	wg.Wait()

	m.EnforceDiskQuota()
}

type clearTask[K, V any] struct {
	vsm  *vsm.VSM[K, V]
	name string
	wg   *sync.WaitGroup
}

func (m *MDM[K, V]) clearOne(t *clearTask[K, V]) {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("mdm: panic clearing VSM %q: %v", t.name, r)
		}
	}()
	t.vsm.Clear()
	metrics.ClearRuns.WithLabelValues(t.name).Inc()
}

func (m *MDM[K, V]) getMaintPool() *ants.PoolWithFunc {
	m.maintPoolMu.Lock()
	defer m.maintPoolMu.Unlock()
	if m.maintPool != nil {
		return m.maintPool
	}
	pool, err := ants.NewPoolWithFunc(8, func(arg any) {
		t := arg.(*clearTask[K, V])
		m.clearOne(t)
	}, ants.WithPanicHandler(func(v any) {
		m.log.Error("mdm: maintenance worker panic: %v", v)
	}))
	if err != nil {
		m.log.Warn("mdm: failed to create maintenance pool, falling back to inline clearing: %v", err)
		return nil
	}
	m.maintPool = pool
	return m.maintPool
}

// EnforceDiskQuota walks the data root; if total usage exceeds
// max_disk_usage_gb, it runs the reclamation loop with a fixed 24-hour
// window against every subdirectory of the root, including databases that
// are not currently resident in the cache.
func (m *MDM[K, V]) EnforceDiskQuota() {
	const reclaimWindow = 24 * time.Hour

	total, err := dirSize(m.dataDir)
	if err != nil {
		m.log.Warn("mdm: enforce_disk_quota: failed to compute size: %v", err)
		return
	}
	ceiling := uint64(m.cfg.MDM.MaxDiskUsageGB * (1 << 30))
	if total <= ceiling {
		return
	}
	m.log.Info("mdm: disk usage %s exceeds ceiling %s, reclaiming", humanize.Bytes(total), humanize.Bytes(ceiling))
	metrics.QuotaRuns.Inc()

	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		m.log.Warn("mdm: enforce_disk_quota: readdir failed: %v", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m.reclaimDatabase(filepath.Join(m.dataDir, e.Name()), reclaimWindow)
	}
}

// reclaimDatabase acquires a database's FVR directly (without disturbing any
// resident VSM's open-handle cache) and runs one reclamation pass against it.
func (m *MDM[K, V]) reclaimDatabase(dir string, window time.Duration) {
	f, err := fvr.Open(dir, m.cfg.VSM.DBVersionCount, m.log)
	if err != nil {
		m.log.Warn("mdm: enforce_disk_quota: failed to open FVR at %s: %v", dir, err)
		return
	}
	defer f.Close()

	latest := f.Latest()
	now := time.Now().UnixMilli()
	windowMs := window.Milliseconds()

	for v := int32(1); v < latest; v++ {
		t, err := f.RecordValue(int(v))
		if err != nil || t < 0 || (now-t) <= windowMs {
			continue
		}
		ok, casErr := f.CompareAndSetRecordValue(int(v), t, fvr.Clearing)
		if casErr != nil || !ok {
			continue
		}
		vdir := filepath.Join(dir, fmt.Sprint(v))
		if rmErr := os.RemoveAll(vdir); rmErr != nil {
			m.log.Warn("mdm: enforce_disk_quota: failed to remove %s: %v", vdir, rmErr)
			if _, restoreErr := f.CompareAndSetRecordValue(int(v), fvr.Clearing, t); restoreErr != nil {
				m.log.Warn("mdm: enforce_disk_quota: failed to restore timestamp for %s: %v", vdir, restoreErr)
			}
		}
	}
}

func dirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total, err
}

// Close invalidates the cache (closing every resident VSM) and stops the
// background maintenance task.
func (m *MDM[K, V]) Close() error {
	close(m.maintStopCh)
	m.maintWg.Wait()

	m.maintPoolMu.Lock()
	if m.maintPool != nil {
		m.maintPool.Release()
		m.maintPool = nil
	}
	m.maintPoolMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
	return nil
}
