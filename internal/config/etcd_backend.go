package config

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	log "github.com/sirupsen/logrus"
)

const etcdRetryBackoff = 500 * time.Millisecond

// etcdKeyNames maps an etcd key (relative to root) to the Store key it
// publishes under, per original_source/src/etcd_config.cpp's
// kRootMapping/kRenderMapping: the app/server/data/cacher sections
// publish as one opaque value each, while render's three children are
// split out individually so render/styles can be watched (and hot-
// reloaded) independently of the worker pool's static sizing.
var etcdKeyNames = map[string]string{
	"/app":                 "app",
	"/server":              "server",
	"/data":                "data",
	"/cacher":              "cacher",
	"/render/workers":      "render/workers",
	"/render/queue_limit":  "render/queue_limit",
	"/render/styles":       "render/styles",
}

// EtcdBackend watches root in etcd and republishes the recognised key
// mappings into a Store, grounded on etcd_config.cpp's UpdateAll/
// StartWatch/ParseAndSet, reworked onto go.etcd.io/etcd/client/v3's
// native Get/Watch (same idiom as internal/peers.Directory).
type EtcdBackend struct {
	client *clientv3.Client
	root   string
	store  *Store

	stop   chan struct{}
	stopCh sync.Once
}

// NewEtcdBackend constructs a backend that will publish into store.
func NewEtcdBackend(client *clientv3.Client, root string, store *Store) *EtcdBackend {
	return &EtcdBackend{
		client: client,
		root:   strings.TrimRight(root, "/"),
		store:  store,
		stop:   make(chan struct{}),
	}
}

// Start bootstraps every known key under root and begins watching for
// changes. It blocks until the first bootstrap succeeds or ctx is
// cancelled.
func (b *EtcdBackend) Start(ctx context.Context) error {
	rev, err := b.bootstrap(ctx)
	if err != nil {
		return err
	}
	go b.watchLoop(rev)
	return nil
}

// Close stops the watch loop.
func (b *EtcdBackend) Close() {
	b.stopCh.Do(func() { close(b.stop) })
}

func (b *EtcdBackend) bootstrap(ctx context.Context) (int64, error) {
	for {
		resp, err := b.client.Get(ctx, b.root+"/", clientv3.WithPrefix())
		if err != nil {
			log.WithError(err).Warn("config: etcd bootstrap get failed, retrying")
			select {
			case <-time.After(etcdRetryBackoff):
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		for _, kv := range resp.Kvs {
			b.publish(string(kv.Key), kv.Value)
		}
		return resp.Header.Revision, nil
	}
}

// watchLoop mirrors UpdateAll/StartWatch's retry contract: a watch error
// (etcd_config.cpp's "wait_id_outdated", here any resp.Err()) forces a
// fresh bootstrap instead of trying to resume from a stale revision.
func (b *EtcdBackend) watchLoop(fromRev int64) {
	for {
		ctx, cancel := context.WithCancel(context.Background())
		wc := b.client.Watch(ctx, b.root+"/", clientv3.WithPrefix(), clientv3.WithRev(fromRev+1))
		outdated := false

	drain:
		for {
			select {
			case <-b.stop:
				cancel()
				return
			case resp, ok := <-wc:
				if !ok {
					break drain
				}
				if err := resp.Err(); err != nil {
					log.WithError(err).Warn("config: etcd watch error, re-bootstrapping")
					outdated = true
					break drain
				}
				for _, ev := range resp.Events {
					if ev.Type == clientv3.EventTypePut {
						b.publish(string(ev.Kv.Key), ev.Kv.Value)
					}
				}
				fromRev = resp.Header.Revision
			}
		}
		cancel()

		if outdated {
			rev, err := b.bootstrap(context.Background())
			if err != nil {
				log.WithError(err).Error("config: etcd re-bootstrap failed")
				time.Sleep(etcdRetryBackoff)
				continue
			}
			fromRev = rev
			continue
		}

		select {
		case <-b.stop:
			return
		case <-time.After(etcdRetryBackoff):
		}
	}
}

// publish parses rawKey's JSON value and sets it under the Store key
// mapped from rawKey's suffix relative to root (ParseAndSet).
// Unrecognised keys are ignored; a malformed value or a value that
// fails a registered schema is logged and dropped rather than aborting
// the watch.
func (b *EtcdBackend) publish(rawKey string, rawValue []byte) {
	suffix := strings.TrimPrefix(rawKey, b.root)
	name, ok := etcdKeyNames[suffix]
	if !ok {
		return
	}

	var value any
	if err := json.Unmarshal(rawValue, &value); err != nil {
		log.WithError(err).WithField("key", rawKey).Warn("config: malformed etcd value, ignoring")
		return
	}
	if err := b.store.SetValue(name, value); err != nil {
		log.WithError(err).WithField("key", rawKey).Warn("config: value failed validation, ignoring")
	}
}
