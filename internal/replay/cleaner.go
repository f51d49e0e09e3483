package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sdfmover/engine/internal/logging"
)

// RetentionPolicy bounds how many run bundles stay on disk. Zero values disable a bound.
type RetentionPolicy struct {
	MaxRuns int
	MaxAge  time.Duration
}

// StorageStats summarises the retained bundles after a sweep.
type StorageStats struct {
	Runs      int
	Bytes     int64
	Removed   int
	LastSweep time.Time
}

// Cleaner prunes run bundles under a replay root.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the replay root.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the result of the last sweep.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type runDir struct {
	name    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if strings.TrimSpace(c.dir) == "" {
		return
	}
	runs, err := c.collect()
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	now := c.now()
	stats := StorageStats{LastSweep: now}
	for _, run := range runs {
		//1.- Newest runs come first so the count bound keeps the most recent ones.
		reason := c.expired(run, now, stats.Runs)
		if reason != "" {
			err := os.RemoveAll(filepath.Join(c.dir, run.name))
			if err == nil {
				c.log.Info("replay retention removed run", logging.String("run", run.name), logging.String("reason", reason))
				stats.Removed++
				continue
			}
			c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("run", run.name))
		}
		stats.Runs++
		stats.Bytes += run.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect lists run bundles, identified by their manifest, newest first.
func (c *Cleaner) collect() ([]runDir, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	runs := make([]runDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(path, manifestName)); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		runs = append(runs, runDir{name: entry.Name(), size: size, modTime: info.ModTime()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].modTime.After(runs[j].modTime) })
	return runs, nil
}

func (c *Cleaner) expired(run runDir, now time.Time, kept int) string {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(run.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxRuns > 0 && kept >= c.policy.MaxRuns {
		reasons = append(reasons, fmt.Sprintf(">=%d runs", c.policy.MaxRuns))
	}
	return strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
