// Package peers implements the cluster peer directory (SPEC_FULL.md
// §4.9, unchanged from spec.md §4.9): bootstrap and watch a peer set
// rooted at a known etcd prefix, register this node's own entry with a
// refreshed TTL, and shard metatile work across the active set.
// Grounded on original_source/src/nodes_monitor.cpp's bootstrap/watch/
// register state machine, reworked onto go.etcd.io/etcd/client/v3's
// native Get/Watch/Lease primitives instead of a bespoke etcd protocol
// client.
package peers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	log "github.com/sirupsen/logrus"

	"github.com/atlasdatatech/tileserver/internal/metatile"
)

const bootstrapBackoff = 2 * time.Second

// Entry is one peer's address, sorted-set identity (PeerEntry, spec.md
// §3). Self marks the local node's own entry.
type Entry struct {
	Addr string
	Self bool
}

// Snapshot is an immutable, sorted view of the peer set, published
// atomically by the Directory (spec.md §3: "Peer-directory snapshots
// are immutable; producers publish a new snapshot atomically;
// consumers hold their snapshot for the duration of one request").
type Snapshot struct {
	Entries []Entry
}

// Target shards a metatile to the responsible peer: index
// (lt.x XOR lt.y) mod |nodes| (spec.md §4.9).
func (s *Snapshot) Target(lt metatile.TileID) (Entry, bool) {
	if s == nil || len(s.Entries) == 0 {
		return Entry{}, false
	}
	i := (lt.X ^ lt.Y) % uint32(len(s.Entries))
	return s.Entries[i], true
}

func newSnapshot(raw map[string]string, selfAddr string) *Snapshot {
	entries := make([]Entry, 0, len(raw))
	for _, addr := range raw {
		entries = append(entries, Entry{Addr: addr, Self: addr == selfAddr})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Addr < entries[j].Addr })
	return &Snapshot{Entries: entries}
}

// Directory watches root (e.g. "/nodes") in etcd and maintains the
// sorted peer snapshot, plus this node's own registration.
type Directory struct {
	client   *clientv3.Client
	root     string
	selfAddr string
	selfKey  string
	ttl      time.Duration

	snapshot atomic.Pointer[Snapshot]

	leaseMu sync.Mutex
	leaseID clientv3.LeaseID

	stop   chan struct{}
	stopCh sync.Once
}

// New constructs a Directory. selfAddr is this node's own
// "<host>:<port>" value (spec.md §4.9).
func New(client *clientv3.Client, root, selfAddr string, ttl time.Duration) *Directory {
	d := &Directory{
		client:   client,
		root:     strings.TrimRight(root, "/"),
		selfAddr: selfAddr,
		selfKey:  strings.TrimRight(root, "/") + "/" + strings.NewReplacer(":", "_").Replace(selfAddr),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	d.snapshot.Store(&Snapshot{})
	return d
}

// ActiveNodes returns the current immutable snapshot.
func (d *Directory) ActiveNodes() *Snapshot {
	return d.snapshot.Load()
}

// Start bootstraps the peer set and begins watching for changes. It
// blocks until the first bootstrap succeeds or ctx is cancelled.
func (d *Directory) Start(ctx context.Context) error {
	rev, err := d.bootstrap(ctx)
	if err != nil {
		return err
	}
	go d.watchLoop(rev)
	return nil
}

// Close stops the watch loop and lease-refresh goroutine.
func (d *Directory) Close() {
	d.stopCh.Do(func() { close(d.stop) })
}

func (d *Directory) bootstrap(ctx context.Context) (int64, error) {
	for {
		resp, err := d.client.Get(ctx, d.root+"/", clientv3.WithPrefix())
		if err != nil {
			log.WithError(err).Warn("peers: bootstrap get failed, retrying")
			select {
			case <-time.After(bootstrapBackoff):
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		raw := make(map[string]string, len(resp.Kvs))
		for _, kv := range resp.Kvs {
			raw[string(kv.Value)] = string(kv.Value)
		}
		d.snapshot.Store(newSnapshot(raw, d.selfAddr))
		return resp.Header.Revision, nil
	}
}

func (d *Directory) watchLoop(fromRev int64) {
	for {
		ctx, cancel := context.WithCancel(context.Background())
		wc := d.client.Watch(ctx, d.root+"/", clientv3.WithPrefix(), clientv3.WithRev(fromRev+1))
		outdated := false

	drain:
		for {
			select {
			case <-d.stop:
				cancel()
				return
			case resp, ok := <-wc:
				if !ok {
					break drain
				}
				if err := resp.Err(); err != nil {
					log.WithError(err).Warn("peers: watch error, re-bootstrapping")
					outdated = true
					break drain
				}
				d.applyEvents(resp.Events)
				fromRev = resp.Header.Revision
			}
		}
		cancel()

		if outdated {
			rev, err := d.bootstrap(context.Background())
			if err != nil {
				log.WithError(err).Error("peers: re-bootstrap failed")
				time.Sleep(bootstrapBackoff)
				continue
			}
			fromRev = rev
			continue
		}

		select {
		case <-d.stop:
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (d *Directory) applyEvents(events []*clientv3.Event) {
	cur := d.snapshot.Load()
	raw := make(map[string]string, len(cur.Entries)+len(events))
	for _, e := range cur.Entries {
		raw[e.Addr] = e.Addr
	}
	for _, ev := range events {
		switch ev.Type {
		case clientv3.EventTypePut:
			raw[string(ev.Kv.Value)] = string(ev.Kv.Value)
		case clientv3.EventTypeDelete:
			if ev.PrevKv != nil {
				delete(raw, string(ev.PrevKv.Value))
			}
		}
	}
	d.snapshot.Store(newSnapshot(raw, d.selfAddr))
}

// Register publishes this node's own entry with a TTL lease and begins
// a refresh loop at ttl/2 (spec.md §4.9). On a not-found error during
// refresh (the lease expired), it re-registers from scratch.
func (d *Directory) Register(ctx context.Context) error {
	if err := d.registerOnce(ctx); err != nil {
		return err
	}
	go d.refreshLoop()
	return nil
}

func (d *Directory) registerOnce(ctx context.Context) error {
	lease, err := d.client.Grant(ctx, int64(d.ttl.Seconds()))
	if err != nil {
		return err
	}
	if _, err := d.client.Put(ctx, d.selfKey, d.selfAddr, clientv3.WithLease(lease.ID)); err != nil {
		return err
	}
	d.leaseMu.Lock()
	d.leaseID = lease.ID
	d.leaseMu.Unlock()
	return nil
}

func (d *Directory) refreshLoop() {
	interval := d.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.leaseMu.Lock()
			id := d.leaseID
			d.leaseMu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := d.client.KeepAliveOnce(ctx, id)
			cancel()
			if err != nil {
				log.WithError(err).Warn("peers: lease refresh failed, re-registering")
				if err := d.registerOnce(context.Background()); err != nil {
					log.WithError(err).Error("peers: re-registration failed")
				}
			}
		}
	}
}

// Unregister best-effort deletes this node's own entry.
func (d *Directory) Unregister(ctx context.Context) {
	if _, err := d.client.Delete(ctx, d.selfKey); err != nil {
		log.WithError(err).Warn("peers: unregister failed")
	}
}
