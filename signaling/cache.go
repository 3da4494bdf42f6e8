package signaling

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const cacheFileVersion = "1"

// fileCache persists ChannelDescription to disk in the line format
// spec.md §6 "Persisted state" defines:
//
//	version,channelName,region,role,channelArn,httpsEndpoint,wssEndpoint,creationTsEpochSeconds
//
// One line per channel name; loadCache/saveCache rewrite the whole
// file, which matches the teacher's append-then-compact style for its
// own small on-disk caches.
type fileCache struct {
	path string
}

func newFileCache(path string) *fileCache {
	return &fileCache{path: path}
}

type cacheEntry struct {
	channelName   string
	region        string
	role          Role
	channelARN    string
	httpsEndpoint string
	wssEndpoint   string
	createdAt     time.Time
}

func (c *fileCache) load(channelName string) (*cacheEntry, bool) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if len(fields) != 8 || fields[0] != cacheFileVersion {
			continue
		}
		if fields[1] != channelName {
			continue
		}
		ts, err := strconv.ParseInt(fields[7], 10, 64)
		if err != nil {
			continue
		}
		return &cacheEntry{
			channelName:   fields[1],
			region:        fields[2],
			role:          Role(fields[3]),
			channelARN:    fields[4],
			httpsEndpoint: fields[5],
			wssEndpoint:   fields[6],
			createdAt:     time.Unix(ts, 0),
		}, true
	}
	return nil, false
}

func (c *fileCache) store(e *cacheEntry) error {
	entries, _ := c.all()
	entries[e.channelName] = e

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("signaling: open cache file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, entry := range entries {
		line := fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%d\n",
			cacheFileVersion, entry.channelName, entry.region, entry.role,
			entry.channelARN, entry.httpsEndpoint, entry.wssEndpoint,
			entry.createdAt.Unix())
		if _, err := w.WriteString(line); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

func (c *fileCache) all() (map[string]*cacheEntry, error) {
	out := make(map[string]*cacheEntry)
	f, err := os.Open(c.path)
	if err != nil {
		return out, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if len(fields) != 8 || fields[0] != cacheFileVersion {
			continue
		}
		ts, err := strconv.ParseInt(fields[7], 10, 64)
		if err != nil {
			continue
		}
		out[fields[1]] = &cacheEntry{
			channelName:   fields[1],
			region:        fields[2],
			role:          Role(fields[3]),
			channelARN:    fields[4],
			httpsEndpoint: fields[5],
			wssEndpoint:   fields[6],
			createdAt:     time.Unix(ts, 0),
		}
	}
	return out, nil
}

// fresh reports whether e was written within period, per spec.md
// §4.9's caching policies that let "describe"/"get-endpoint" be
// skipped within CachingPeriod.
func (e *cacheEntry) fresh(period time.Duration) bool {
	return time.Since(e.createdAt) < period
}
