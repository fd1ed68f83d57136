package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/SlappyBacon/pico/internal/channel"
	"github.com/SlappyBacon/pico/internal/connector"
	"github.com/SlappyBacon/pico/internal/dispatcher"
	"github.com/SlappyBacon/pico/internal/logger"
	"github.com/SlappyBacon/pico/internal/store"
	"github.com/SlappyBacon/pico/internal/transfer"
)

var testChannel = channel.Options{KeySize: 64, BufferSize: 4096}

// Network is a set of file-serving dispatchers on loopback that share one
// context.
type Network struct {
	nodes  []*Node
	cancel context.CancelFunc
	ctx    context.Context
	t      *testing.T
}

type Node struct {
	Dispatcher *dispatcher.Dispatcher
	Dir        string
	Ledger     *store.TransferStore
}

func NewNetwork(t *testing.T) *Network {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	n := &Network{
		cancel: cancel,
		ctx:    ctx,
		t:      t,
	}
	t.Cleanup(n.Close)
	return n
}

// AddNode starts a dispatcher with the given number of slots that points
// full clients at mirrors.
func (n *Network) AddNode(slots int, mirrors ...string) *Node {
	n.t.Helper()

	log := logger.NewLogger()

	db, err := store.Open(":memory:")
	if err != nil {
		n.t.Fatalf("Failed to open ledger: %v", err)
	}
	n.t.Cleanup(func() { _ = store.Close(db) })
	ledger := store.NewTransferStore(db)

	dir := filepath.Join(n.t.TempDir(), "shared")
	recv, err := transfer.NewReceiver(dir, ledger, log)
	if err != nil {
		n.t.Fatalf("Failed to create receiver: %v", err)
	}

	d, err := dispatcher.New(dispatcher.Config{
		Host:       "127.0.0.1",
		ServePorts: make([]int, slots),
		Mirrors:    mirrors,
		Handler:    recv.Handle,
		Channel:    testChannel,
		Logger:     log,
	})
	if err != nil {
		n.t.Fatalf("Failed to create dispatcher: %v", err)
	}
	if err := d.Start(n.ctx); err != nil {
		n.t.Fatalf("Failed to start dispatcher: %v", err)
	}

	node := &Node{Dispatcher: d, Dir: dir, Ledger: ledger}
	n.nodes = append(n.nodes, node)
	return node
}

func (n *Network) NewConnector() *connector.Connector {
	return connector.New(connector.Config{
		Channel: testChannel,
		Logger:  logger.NewLogger(),
	})
}

func (n *Network) Context() context.Context {
	return n.ctx
}

func (n *Network) Close() {
	n.cancel()
	for _, node := range n.nodes {
		_ = node.Dispatcher.Stop()
	}
	n.nodes = nil
}
