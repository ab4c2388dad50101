package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeEtcdClient struct {
	held map[string]bool
}

func newFakeEtcdClient() *fakeEtcdClient { return &fakeEtcdClient{held: map[string]bool{}} }

func (c *fakeEtcdClient) Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	return &clientv3.LeaseGrantResponse{ID: 1}, nil
}

func (c *fakeEtcdClient) Txn(ctx context.Context) clientv3.Txn {
	return &recordingTxn{client: c}
}

func (c *fakeEtcdClient) Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	delete(c.held, key)
	return &clientv3.DeleteResponse{}, nil
}

func (c *fakeEtcdClient) Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	return &clientv3.LeaseRevokeResponse{}, nil
}

// recordingTxn captures the put key from Then and commits it only if
// the key isn't already held, mirroring the CreateRevision-if-absent
// compare-and-swap the real etcd transaction performs.
type recordingTxn struct {
	client *fakeEtcdClient
	key    string
}

func (t *recordingTxn) If(cs ...clientv3.Cmp) clientv3.Txn { return t }

func (t *recordingTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	for _, op := range ops {
		if op.IsPut() {
			t.key = string(op.KeyBytes())
		}
	}
	return t
}

func (t *recordingTxn) Else(ops ...clientv3.Op) clientv3.Txn { return t }

func (t *recordingTxn) Commit() (*clientv3.TxnResponse, error) {
	if t.client.held[t.key] {
		return &clientv3.TxnResponse{Succeeded: false}, nil
	}
	t.client.held[t.key] = true
	return &clientv3.TxnResponse{Succeeded: true}, nil
}

func TestRunExecutesFnWhileLockHeldThenReleases(t *testing.T) {
	cli := newFakeEtcdClient()
	l := NewEtcdLock(cli, "host1", "", time.Second, 500*time.Millisecond, 5*time.Millisecond, zerolog.Nop())

	ran := false
	err := l.Run(context.Background(), "reconcile_all", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.Empty(t, cli.held, "lock must be released after Run returns")
}

func TestRunPropagatesFnError(t *testing.T) {
	cli := newFakeEtcdClient()
	l := NewEtcdLock(cli, "host1", "", time.Second, 500*time.Millisecond, 5*time.Millisecond, zerolog.Nop())

	wantErr := errors.New("boom")
	err := l.Run(context.Background(), "reconcile_all", func() error { return wantErr })
	require.ErrorIs(t, err, wantErr)
	require.Empty(t, cli.held, "lock must still be released when fn fails")
}

func TestRunTimesOutWhenLockAlreadyHeld(t *testing.T) {
	cli := newFakeEtcdClient()
	cli.held["/ddns-sd/locks/reconcile_all"] = true
	l := NewEtcdLock(cli, "host1", "", time.Second, 30*time.Millisecond, 5*time.Millisecond, zerolog.Nop())

	err := l.Run(context.Background(), "reconcile_all", func() error {
		t.Fatal("fn must not run when the lock cannot be acquired")
		return nil
	})
	require.Error(t, err)
}
