package client

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/protocol"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds replication client settings
type Config struct {
	ReplicationFactor int
	DialTimeout       time.Duration
	RequestTimeout    time.Duration
	ProbeTimeout      time.Duration
}

// ReplicaReply is the answer of one replica to a broadcast request.
// Err is set when the replica was not asked or did not answer.
type ReplicaReply struct {
	Server model.ServerAddress
	Reply  protocol.Reply
	Err    error
}

// String renders the reply the way it is shown to users
func (r ReplicaReply) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: unreachable (%v)", r.Server, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Server, r.Reply)
}

// Result aggregates the replies of a broadcast
type Result struct {
	Replies []ReplicaReply
	Live    int
	Down    int
	// Warning is set when so many replicas are unreachable that the
	// replication factor no longer guarantees the data was seen.
	Warning string
}

// Degraded reports whether the result carries a correctness warning
func (r Result) Degraded() bool {
	return r.Warning != ""
}

// Count returns the number of answered replies of the given kind
func (r Result) Count(kind protocol.ReplyKind) int {
	n := 0
	for _, rr := range r.Replies {
		if rr.Err == nil && rr.Reply.Kind == kind {
			n++
		}
	}
	return n
}

// ReplicationClient writes records to a random subset of the store servers
// and broadcasts reads to all of them.
type ReplicationClient struct {
	config   *Config
	replicas []*ReplicaConn
	logger   *zap.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

// Connect dials every server. Any unreachable server is fatal: the client
// does not start with a member already known to be down.
func Connect(ctx context.Context, servers []model.ServerAddress, cfg *Config, logger *zap.Logger) (*ReplicationClient, error) {
	if len(servers) == 0 {
		return nil, errors.InvalidArgument("server list is empty", nil)
	}
	if cfg.ReplicationFactor < 1 || cfg.ReplicationFactor > len(servers) {
		return nil, errors.InvalidArgument(
			fmt.Sprintf("replication factor %d must be between 1 and %d", cfg.ReplicationFactor, len(servers)), nil)
	}

	replicas := make([]*ReplicaConn, 0, len(servers))
	for _, addr := range servers {
		rc, err := DialReplica(ctx, addr, cfg.DialTimeout)
		if err != nil {
			for _, opened := range replicas {
				_ = opened.Close()
			}
			logger.Error("Failed to connect to replica", zap.String("replica", addr.String()), zap.Error(err))
			return nil, err
		}
		replicas = append(replicas, rc)
	}

	logger.Info("Connected to replicas",
		zap.Int("replicas", len(replicas)),
		zap.Int("replication_factor", cfg.ReplicationFactor))

	return &ReplicationClient{
		config:   cfg,
		replicas: replicas,
		logger:   logger,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Servers returns the addresses of all replicas in server list order
func (c *ReplicationClient) Servers() []model.ServerAddress {
	addrs := make([]model.ServerAddress, len(c.replicas))
	for i, rc := range c.replicas {
		addrs[i] = rc.Addr()
	}
	return addrs
}

// ReplicationFactor returns k
func (c *ReplicationClient) ReplicationFactor() int {
	return c.config.ReplicationFactor
}

// Put sends every record to k replicas chosen uniformly at random and
// returns the chosen servers. Writes are sequential and the first reply
// other than OK aborts the whole write; nothing is retried.
func (c *ReplicationClient) Put(ctx context.Context, records []model.Record) ([]model.ServerAddress, error) {
	lines := make([]string, len(records))
	for i, rec := range records {
		payload, err := protocol.ValueReply(rec.Value())
		if err != nil {
			return nil, err
		}
		lines[i] = protocol.FormatCommand(protocol.CmdPut, payload)
	}

	chosen := c.choose(c.config.ReplicationFactor)
	targets := make([]model.ServerAddress, len(chosen))
	for i, rc := range chosen {
		targets[i] = rc.Addr()
	}

	c.logger.Info("Writing records",
		zap.Int("records", len(records)),
		zap.Strings("replicas", addrStrings(targets)))

	for _, rc := range chosen {
		for _, line := range lines {
			raw, err := rc.Do(ctx, line, c.config.RequestTimeout)
			if err != nil {
				c.logger.Error("Write failed", zap.String("replica", rc.Addr().String()), zap.Error(err))
				return targets, err
			}
			if reply := protocol.ParseReply(raw); !reply.IsOK() {
				c.logger.Error("Write rejected", zap.String("replica", rc.Addr().String()), zap.String("reply", raw))
				return targets, errors.WriteRejected(rc.Addr().String(), raw)
			}
		}
	}
	return targets, nil
}

// Probe pings every replica concurrently and reports which answered PONG
// within the probe timeout.
func (c *ReplicationClient) Probe(ctx context.Context) []bool {
	live := make([]bool, len(c.replicas))
	g, gctx := errgroup.WithContext(ctx)
	for i, rc := range c.replicas {
		i, rc := i, rc
		g.Go(func() error {
			raw, err := rc.Do(gctx, protocol.CmdPing, c.config.ProbeTimeout)
			if err != nil {
				c.logger.Warn("Replica failed liveness probe", zap.String("replica", rc.Addr().String()), zap.Error(err))
				return nil
			}
			live[i] = protocol.ParseReply(raw).Kind == protocol.ReplyKindPong
			return nil
		})
	}
	_ = g.Wait()
	return live
}

// Get reads key from every live replica
func (c *ReplicationClient) Get(ctx context.Context, key string) Result {
	return c.readLive(ctx, protocol.FormatCommand(protocol.CmdGet, key))
}

// Query resolves a dotted keypath on every live replica
func (c *ReplicationClient) Query(ctx context.Context, path string) Result {
	return c.readLive(ctx, protocol.FormatCommand(protocol.CmdQuery, path))
}

// Delete removes key from every replica. It is refused when any replica is
// unreachable so that no replica keeps serving the deleted data.
func (c *ReplicationClient) Delete(ctx context.Context, key string) (Result, error) {
	live := c.Probe(ctx)
	down := countDown(live)
	if down > 0 {
		err := errors.ReplicaDown(down, len(c.replicas))
		c.logger.Warn("Delete refused", zap.String("key", key), zap.Error(err))
		return c.unreachable(live), err
	}
	return c.broadcast(ctx, protocol.FormatCommand(protocol.CmdDelete, key), live), nil
}

// Compute sends the formula to every replica without probing first. Each
// replica evaluates it against its own data; replies are not reconciled.
// The leading COMPUTE keyword is optional.
func (c *ReplicationClient) Compute(ctx context.Context, formula string) Result {
	formula = strings.TrimSpace(formula)
	if verb, _, _ := strings.Cut(formula, " "); !strings.EqualFold(verb, protocol.CmdCompute) {
		formula = protocol.FormatCommand(protocol.CmdCompute, formula)
	}
	all := make([]bool, len(c.replicas))
	for i := range all {
		all[i] = true
	}
	return c.broadcast(ctx, formula, all)
}

// Close says goodbye to every replica and closes the sockets
func (c *ReplicationClient) Close() error {
	var err error
	for _, rc := range c.replicas {
		raw, doErr := rc.Do(context.Background(), protocol.CmdExit, c.config.ProbeTimeout)
		if doErr == nil && !protocol.ParseReply(raw).IsOK() {
			doErr = fmt.Errorf("replica %s answered EXIT with %q", rc.Addr(), raw)
		}
		err = multierr.Append(err, doErr)
		err = multierr.Append(err, rc.Close())
	}
	return err
}

func (c *ReplicationClient) readLive(ctx context.Context, line string) Result {
	live := c.Probe(ctx)
	res := c.broadcast(ctx, line, live)
	if k := c.config.ReplicationFactor; res.Down >= k {
		res.Warning = fmt.Sprintf("%d of %d replicas are unreachable, replication factor %d no longer covers every record; results may be incomplete",
			res.Down, len(c.replicas), k)
		c.logger.Warn("Read is degraded", zap.Int("down", res.Down), zap.Int("replication_factor", k))
	}
	return res
}

// broadcast sends line to every replica marked in targets and collects the
// replies in server list order.
func (c *ReplicationClient) broadcast(ctx context.Context, line string, targets []bool) Result {
	res := c.unreachable(targets)

	g, gctx := errgroup.WithContext(ctx)
	for i, rc := range c.replicas {
		if !targets[i] {
			continue
		}
		i, rc := i, rc
		g.Go(func() error {
			raw, err := rc.Do(gctx, line, c.config.RequestTimeout)
			if err != nil {
				res.Replies[i].Err = err
				return nil
			}
			res.Replies[i].Err = nil
			res.Replies[i].Reply = protocol.ParseReply(raw)
			return nil
		})
	}
	_ = g.Wait()

	res.Live, res.Down = 0, 0
	for _, rr := range res.Replies {
		if rr.Err != nil {
			res.Down++
		} else {
			res.Live++
		}
	}
	return res
}

// unreachable prepares a result where every replica outside targets is
// reported as down.
func (c *ReplicationClient) unreachable(targets []bool) Result {
	res := Result{Replies: make([]ReplicaReply, len(c.replicas))}
	for i, rc := range c.replicas {
		res.Replies[i].Server = rc.Addr()
		if !targets[i] {
			res.Replies[i].Err = errors.Unavailable("replica is unreachable", nil)
			res.Down++
		} else {
			res.Live++
		}
	}
	return res
}

// choose picks n distinct replicas uniformly at random
func (c *ReplicationClient) choose(n int) []*ReplicaConn {
	c.randMu.Lock()
	perm := c.rand.Perm(len(c.replicas))
	c.randMu.Unlock()

	chosen := make([]*ReplicaConn, n)
	for i := 0; i < n; i++ {
		chosen[i] = c.replicas[perm[i]]
	}
	return chosen
}

func countDown(live []bool) int {
	down := 0
	for _, ok := range live {
		if !ok {
			down++
		}
	}
	return down
}

func addrStrings(addrs []model.ServerAddress) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
