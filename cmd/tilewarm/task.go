// Package main implements a bulk cache-priming client: given a region
// and a zoom range, it issues ordinary tile requests against a running
// tileserver so the requested area is already cached before real users
// hit it. Grounded on atlasdatatech-tiler/task.go's Task/Download
// machinery (worker-gated fetch loop, abort/pause/play control channels,
// pb.v1 progress reporting, teris-io/shortid task IDs), repurposed from
// "download tiles into an mbtiles file" to "prime a remote cache",
// dropping the mbtiles/file-sink half entirely since priming a cache
// has no local artifact to write.
package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// Task primes one endpoint's cache over a region and zoom range.
type Task struct {
	ID       string
	Server   string
	Version  string
	Endpoint string
	Tags     []string
	Ext      string
	Layers   string
	MinZoom  int
	MaxZoom  int
	Region   orb.Collection

	Total   int64
	Bar     *pb.ProgressBar
	client  *http.Client
	workers chan struct{}
	wg      sync.WaitGroup

	abort, pause, play chan struct{}

	hits, misses int64
	mu           sync.Mutex
}

// NewTask builds a priming task. workerCount bounds in-flight requests.
func NewTask(server, version, endpoint string, tags []string, ext, layers string, minZoom, maxZoom int, region orb.Collection, workerCount int) *Task {
	id, _ := shortid.Generate()
	t := &Task{
		ID:       id,
		Server:   strings.TrimRight(server, "/"),
		Version:  version,
		Endpoint: endpoint,
		Tags:     tags,
		Ext:      ext,
		Layers:   layers,
		MinZoom:  minZoom,
		MaxZoom:  maxZoom,
		Region:   region,
		client:   &http.Client{Timeout: 30 * time.Second},
		workers:  make(chan struct{}, workerCount),
		abort:    make(chan struct{}),
		pause:    make(chan struct{}),
		play:     make(chan struct{}),
	}
	for z := minZoom; z <= maxZoom; z++ {
		for _, g := range region {
			t.Total += tilecover.GeometryCount(g, maptile.Zoom(z))
		}
	}
	return t
}

func (t *Task) Abort() { t.abort <- struct{}{} }
func (t *Task) Pause() { t.pause <- struct{}{} }
func (t *Task) Play()  { t.play <- struct{}{} }

// url builds the equivalent request path spec.md §6 describes, the way
// internal/httpapi's peer proxy rebuilds one server-side.
func (t *Task) url(tile maptile.Tile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "http://%s/%s/%s", t.Server, t.Version, t.Endpoint)
	for _, tag := range t.Tags {
		b.WriteByte('/')
		b.WriteString(tag)
	}
	fmt.Fprintf(&b, "/%d/%d/%d.%s", tile.Z, tile.X, tile.Y, t.Ext)
	if t.Layers != "" {
		b.WriteString("?layers=")
		b.WriteString(t.Layers)
	}
	return b.String()
}

func (t *Task) fetch(ctx context.Context, tile maptile.Tile) {
	defer t.wg.Done()
	defer func() { <-t.workers }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url(tile), nil)
	if err != nil {
		log.WithError(err).Warnf("tilewarm: build request for %v failed", tile)
		return
	}
	resp, err := t.client.Do(req)
	if err != nil {
		log.WithError(err).Warnf("tilewarm: fetch %v failed", tile)
		t.mu.Lock()
		t.misses++
		t.mu.Unlock()
		return
	}
	defer resp.Body.Close()

	t.mu.Lock()
	if resp.StatusCode == http.StatusOK {
		t.hits++
	} else {
		t.misses++
	}
	t.mu.Unlock()

	if resp.StatusCode != http.StatusOK {
		log.Warnf("tilewarm: %v returned status %d", tile, resp.StatusCode)
	}
}

// Warm streams every tile in the region across the configured zoom
// range through the worker-gated fetch loop, honoring abort/pause/play
// the same way the teacher's download loop does.
func (t *Task) Warm(ctx context.Context) {
	t.Bar = pb.New64(t.Total).Prefix(fmt.Sprintf("Warm %s: ", t.ID))
	t.Bar.Start()
	defer t.Bar.FinishPrint(fmt.Sprintf("task %s finished ~", t.ID))

	for z := t.MinZoom; z <= t.MaxZoom; z++ {
		for _, g := range t.Region {
			if !t.warmGeometry(ctx, g, z) {
				t.wg.Wait()
				return
			}
		}
	}
	t.wg.Wait()
}

// warmGeometry drains one geometry's tile cover at zoom z. Returns
// false if the task was aborted mid-stream.
func (t *Task) warmGeometry(ctx context.Context, g orb.Geometry, zoom int) bool {
	tilelist := make(chan maptile.Tile, 64)
	go func() {
		defer close(tilelist)
		tilecover.GeometryChannel(g, maptile.Zoom(zoom), tilelist)
	}()

	for tile := range tilelist {
		select {
		case t.workers <- struct{}{}:
			t.Bar.Increment()
			t.wg.Add(1)
			go t.fetch(ctx, tile)
		case <-t.abort:
			log.Infof("tilewarm: task %s aborted", t.ID)
			return false
		case <-t.pause:
			log.Infof("tilewarm: task %s paused", t.ID)
			select {
			case <-t.play:
				log.Infof("tilewarm: task %s resumed", t.ID)
			case <-t.abort:
				log.Infof("tilewarm: task %s aborted", t.ID)
				return false
			}
		}
	}
	return true
}

// Summary reports how many requests landed a cache hit (HTTP 200) vs a
// miss/error, for the final log line.
func (t *Task) Summary() (hits, misses int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hits, t.misses
}
