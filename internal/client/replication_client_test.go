package client_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triekv/triekv/internal/client"
	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/handler"
	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/protocol"
	"github.com/triekv/triekv/internal/server"
	"github.com/triekv/triekv/internal/service"
	"github.com/triekv/triekv/internal/storage/trie"
	"go.uber.org/zap"
)

func serverAddress(t *testing.T, addr net.Addr) model.ServerAddress {
	t.Helper()
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	return model.ServerAddress{Host: tcp.IP.String(), Port: tcp.Port}
}

// startStore runs a real store server on a loopback port
func startStore(t *testing.T) model.ServerAddress {
	t.Helper()

	svc := service.NewStoreService(trie.New(), nil, zap.NewNop(), "replica")
	srv := server.NewStoreServer(&server.StoreServerConfig{
		Host:           "127.0.0.1",
		MaxConnections: 16,
		IdleTimeout:    time.Minute,
		WriteTimeout:   5 * time.Second,
		MaxLineBytes:   1 << 20,
	}, handler.NewCommandHandler(svc, nil, zap.NewNop()), nil, zap.NewNop())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	<-srv.Ready()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return serverAddress(t, lis.Addr())
}

// startScripted runs a fake server that answers each line with respond.
// A nil respond accepts connections and never answers.
func startScripted(t *testing.T, respond func(line string) string) model.ServerAddress {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				go func() {
					<-done
					conn.Close()
				}()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					if respond == nil {
						continue
					}
					fmt.Fprintf(conn, "%s\n", respond(scanner.Text()))
				}
			}()
		}
	}()

	t.Cleanup(func() {
		close(done)
		lis.Close()
		wg.Wait()
	})
	return serverAddress(t, lis.Addr())
}

func testConfig(k int) *client.Config {
	return &client.Config{
		ReplicationFactor: k,
		DialTimeout:       time.Second,
		RequestTimeout:    2 * time.Second,
		ProbeTimeout:      200 * time.Millisecond,
	}
}

func connect(t *testing.T, servers []model.ServerAddress, k int) *client.ReplicationClient {
	t.Helper()
	c, err := client.Connect(context.Background(), servers, testConfig(k), zap.NewNop())
	require.NoError(t, err)
	return c
}

func record(t *testing.T, raw string) model.Record {
	t.Helper()
	v, err := model.ParseValue([]byte(raw))
	require.NoError(t, err)
	rec, err := model.NewRecord(v)
	require.NoError(t, err)
	return rec
}

func TestReplicationClient_PutLandsOnKReplicas(t *testing.T) {
	servers := []model.ServerAddress{startStore(t), startStore(t), startStore(t), startStore(t)}
	c := connect(t, servers, 2)
	defer func() { assert.NoError(t, c.Close()) }()
	ctx := context.Background()

	targets, err := c.Put(ctx, []model.Record{
		record(t, `{"a": {"b": {"c": 5}}}`),
		record(t, `{"person": {"age": 86, "height": 2}}`),
	})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.NotEqual(t, targets[0], targets[1])

	res := c.Query(ctx, "a.b.c")
	assert.Equal(t, 4, res.Live)
	assert.Equal(t, 0, res.Down)
	assert.False(t, res.Degraded())
	assert.Equal(t, 2, res.Count(protocol.ReplyKindValue))
	assert.Equal(t, 2, res.Count(protocol.ReplyKindNotFound))

	for _, rr := range res.Replies {
		if rr.Reply.Kind != protocol.ReplyKindValue {
			continue
		}
		assert.Contains(t, targets, rr.Server)
		n, ok := rr.Reply.Number()
		assert.True(t, ok)
		assert.Equal(t, 5.0, n)
	}

	compute := c.Compute(ctx, "COMPUTE 2/(x+3*(y+x)) WHERE x = QUERY person.age AND y = QUERY person.height")
	assert.Equal(t, 2, compute.Count(protocol.ReplyKindValue))
	assert.Equal(t, 2, compute.Count(protocol.ReplyKindError))
}

func TestReplicationClient_GetAndDelete(t *testing.T) {
	servers := []model.ServerAddress{startStore(t), startStore(t)}
	c := connect(t, servers, 2)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Put(ctx, []model.Record{record(t, `{"k": [1, 2]}`)})
	require.NoError(t, err)

	res := c.Get(ctx, "k")
	require.Equal(t, 2, res.Count(protocol.ReplyKindValue))
	assert.Equal(t, "[1,2]", res.Replies[0].Reply.Text)

	res, err = c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(protocol.ReplyKindOK))

	res = c.Get(ctx, "k")
	assert.Equal(t, 2, res.Count(protocol.ReplyKindDeleted))
}

func TestReplicationClient_DownReplicaWarning(t *testing.T) {
	servers := []model.ServerAddress{
		startStore(t),
		startStore(t),
		startScripted(t, nil),
		startScripted(t, nil),
	}
	c := connect(t, servers, 2)
	ctx := context.Background()

	live := c.Probe(ctx)
	assert.Equal(t, []bool{true, true, false, false}, live)

	res := c.Query(ctx, "a.b.c")
	assert.Equal(t, 2, res.Live)
	assert.Equal(t, 2, res.Down)
	assert.True(t, res.Degraded())
	assert.Contains(t, res.Warning, "2 of 4 replicas are unreachable")
	assert.Equal(t, 2, res.Count(protocol.ReplyKindNotFound))
	assert.Error(t, res.Replies[2].Err)
	assert.Contains(t, res.Replies[3].String(), "unreachable")
}

func TestReplicationClient_SingleDownReplicaIsNotDegraded(t *testing.T) {
	servers := []model.ServerAddress{startStore(t), startStore(t), startScripted(t, nil)}
	c := connect(t, servers, 2)

	res := c.Get(context.Background(), "missing")
	assert.Equal(t, 1, res.Down)
	assert.False(t, res.Degraded())
}

func TestReplicationClient_DeleteRefusedWhenReplicaDown(t *testing.T) {
	servers := []model.ServerAddress{startStore(t), startScripted(t, nil)}
	c := connect(t, servers, 1)

	_, err := c.Delete(context.Background(), "k")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeReplicaDown, errors.GetCode(err))
}

func TestReplicationClient_PutAbortsOnRejectedWrite(t *testing.T) {
	rejecting := func(line string) string {
		if line == protocol.CmdPing {
			return protocol.ReplyPong
		}
		return "ERROR disk on fire"
	}
	servers := []model.ServerAddress{startScripted(t, rejecting)}
	c := connect(t, servers, 1)

	_, err := c.Put(context.Background(), []model.Record{record(t, `{"a": 1}`), record(t, `{"b": 2}`)})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeWriteRejected, errors.GetCode(err))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestConnect_Errors(t *testing.T) {
	// a port that was just released refuses connections
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := serverAddress(t, lis.Addr())
	require.NoError(t, lis.Close())

	live := startStore(t)

	tests := []struct {
		name     string
		servers  []model.ServerAddress
		k        int
		wantCode errors.ErrorCode
	}{
		{name: "no servers", k: 1, wantCode: errors.ErrCodeInvalidArgument},
		{name: "k too large", servers: []model.ServerAddress{live}, k: 2, wantCode: errors.ErrCodeInvalidArgument},
		{name: "k zero", servers: []model.ServerAddress{live}, k: 0, wantCode: errors.ErrCodeInvalidArgument},
		{name: "unreachable server", servers: []model.ServerAddress{live, closed}, k: 1, wantCode: errors.ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := client.Connect(context.Background(), tt.servers, testConfig(tt.k), zap.NewNop())
			require.Error(t, err)
			assert.Nil(t, c)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
		})
	}
}

func TestReplicaConn_DiscardsLateReply(t *testing.T) {
	slowPong := func(line string) string {
		if line == protocol.CmdPing {
			time.Sleep(300 * time.Millisecond)
			return protocol.ReplyPong
		}
		return strings.ToLower(line)
	}
	addr := startScripted(t, slowPong)

	rc, err := client.DialReplica(context.Background(), addr, time.Second)
	require.NoError(t, err)
	defer rc.Close()

	_, err = rc.Do(context.Background(), protocol.CmdPing, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(err))

	// the late PONG is skipped, the reply belongs to this request
	reply, err := rc.Do(context.Background(), "GET a", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "get a", reply)
}
