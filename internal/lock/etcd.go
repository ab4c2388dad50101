// Package lock provides an etcd-backed mutual-exclusion lock so that
// two daemon instances pointed at the same backend never interleave a
// reconciliation pass. Optional: internal/engine runs without one.
package lock

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/rs/zerolog"
)

// etcdClient is the narrow surface EtcdLock needs, making it
// substitutable in tests.
type etcdClient interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Txn(ctx context.Context) clientv3.Txn
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
}

// EtcdLock serializes calls to Run across every process sharing the
// same etcd cluster and key prefix.
type EtcdLock struct {
	client        etcdClient
	hostname      string
	prefix        string
	ttl           time.Duration
	timeout       time.Duration
	retryInterval time.Duration
	logger        zerolog.Logger
}

func NewEtcdLock(client etcdClient, hostname, prefix string, ttl, timeout, retryInterval time.Duration, logger zerolog.Logger) *EtcdLock {
	if prefix == "" {
		prefix = "/ddns-sd/locks"
	}
	return &EtcdLock{
		client:        client,
		hostname:      hostname,
		prefix:        prefix,
		ttl:           ttl,
		timeout:       timeout,
		retryInterval: retryInterval,
		logger:        logger,
	}
}

// Run acquires the lock named by key, runs fn with it held, then
// releases it. It blocks until the lock is acquired or timeout
// elapses, in which case it returns an error without running fn.
func (l *EtcdLock) Run(ctx context.Context, key string, fn func() error) error {
	lockKey := fmt.Sprintf("%s/%s", l.prefix, key)

	leaseResp, err := l.client.Grant(ctx, int64(l.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("lock: create lease: %w", err)
	}

	acquired := false
	start := time.Now()
	for time.Since(start) < l.timeout {
		txnResp, err := l.client.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(lockKey), "=", 0)).
			Then(clientv3.OpPut(lockKey, l.hostname, clientv3.WithLease(leaseResp.ID))).
			Commit()
		if err != nil {
			return fmt.Errorf("lock: txn: %w", err)
		}
		if txnResp.Succeeded {
			acquired = true
			break
		}
		select {
		case <-time.After(l.retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !acquired {
		return fmt.Errorf("lock: timed out acquiring %s", key)
	}

	err = fn()

	if _, delErr := l.client.Delete(ctx, lockKey); delErr != nil {
		l.logger.Warn().Err(delErr).Str("key", lockKey).Msg("lock: failed to delete lock key")
	}
	if _, revErr := l.client.Revoke(ctx, leaseResp.ID); revErr != nil {
		l.logger.Warn().Err(revErr).Str("key", lockKey).Msg("lock: failed to revoke lease")
	}

	return err
}
