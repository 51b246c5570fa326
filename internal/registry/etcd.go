package registry

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/angeloszaimis/dispatcher/config"
)

// EtcdStore maps each registry hash onto a key prefix:
//
//	service:names/<service>
//	service:list:<service>/<node>
//	service:polling/<service>
type EtcdStore struct {
	kv     etcdKV
	closer io.Closer
}

// etcdKV is the part of the etcd client the store uses.
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

var _ Store = (*EtcdStore)(nil)

func NewEtcdStore(cfg config.EtcdConfig) (*EtcdStore, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: config.Duration(cfg.DialTimeout),
	})
	if err != nil {
		return nil, unavailable(err, "connect to etcd")
	}
	return &EtcdStore{kv: c, closer: c}, nil
}

func (s *EtcdStore) Exists(ctx context.Context, serviceName string) (bool, error) {
	resp, err := s.kv.Get(ctx, etcdNameKey(serviceName), clientv3.WithCountOnly())
	if err != nil {
		return false, unavailable(err, "check service %q", serviceName)
	}
	return resp.Count > 0, nil
}

func (s *EtcdStore) ListNodes(ctx context.Context, serviceName string) ([]string, error) {
	prefix := etcdListPrefix(serviceName)

	resp, err := s.kv.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, unavailable(err, "list nodes of %q", serviceName)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	nodes := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		nodes = append(nodes, strings.TrimPrefix(string(kv.Key), prefix))
	}
	return nodes, nil
}

// Increment advances the counter with a compare-and-swap on the key's
// revision, retrying until it wins or ctx ends.
func (s *EtcdStore) Increment(ctx context.Context, serviceName string) (int64, error) {
	key := etcdPollingKey(serviceName)

	for {
		resp, err := s.kv.Get(ctx, key)
		if err != nil {
			return 0, unavailable(err, "read polling counter of %q", serviceName)
		}

		var (
			current int64
			cmp     clientv3.Cmp
		)
		if len(resp.Kvs) == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		} else {
			kv := resp.Kvs[0]
			current, err = strconv.ParseInt(string(kv.Value), 10, 64)
			if err != nil {
				return 0, unavailable(err, "parse polling counter of %q", serviceName)
			}
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)
		}

		next := current + 1
		txn, err := s.kv.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(key, strconv.FormatInt(next, 10))).
			Commit()
		if err != nil {
			return 0, unavailable(err, "increment polling counter of %q", serviceName)
		}
		if txn.Succeeded {
			return next, nil
		}
	}
}

func (s *EtcdStore) Set(ctx context.Context, serviceName string, value int64) error {
	if _, err := s.kv.Put(ctx, etcdPollingKey(serviceName), strconv.FormatInt(value, 10)); err != nil {
		return unavailable(err, "reset polling counter of %q", serviceName)
	}
	return nil
}

func (s *EtcdStore) Ping(ctx context.Context) error {
	if _, err := s.kv.Get(ctx, ServiceNamesKey+"/", clientv3.WithPrefix(), clientv3.WithCountOnly()); err != nil {
		return unavailable(err, "ping etcd")
	}
	return nil
}

func (s *EtcdStore) Close() error {
	if s.closer == nil {
		return nil
	}
	if err := s.closer.Close(); err != nil {
		return errors.Wrap(err, "close etcd client")
	}
	return nil
}

func etcdNameKey(serviceName string) string {
	return ServiceNamesKey + "/" + serviceName
}

func etcdListPrefix(serviceName string) string {
	return ServiceListKey(serviceName) + "/"
}

func etcdPollingKey(serviceName string) string {
	return ServicePollingKey + "/" + serviceName
}
