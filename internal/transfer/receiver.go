// Package transfer is a small file service run on top of a Dispatcher:
// peers push files into a directory, pull them back out and list them.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/SlappyBacon/pico/internal/channel"
	"github.com/SlappyBacon/pico/internal/logger"
	"github.com/SlappyBacon/pico/internal/protocol"
	"github.com/SlappyBacon/pico/internal/store"
	"github.com/jpillora/sizestr"
	"github.com/sirupsen/logrus"
)

const (
	VerbPut  = "put"
	VerbGet  = "get"
	VerbList = "list"

	ReplyMissing = "missing"
	ReplyInvalid = "invalid"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

// Receiver serves put, get and list requests out of Dir. It is used as a
// dispatcher Handler.
type Receiver struct {
	Dir    string
	Store  store.TransferRepository
	Logger *logrus.Logger
}

func NewReceiver(dir string, ledger store.TransferRepository, log *logrus.Logger) (*Receiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewLogger()
	}
	return &Receiver{Dir: dir, Store: ledger, Logger: log}, nil
}

// Handle reads one verb from ch and serves it.
func (r *Receiver) Handle(ctx context.Context, ch *channel.Channel) error {
	verb, err := ch.ReadText()
	if err != nil {
		return err
	}

	log := r.Logger.WithFields(logrus.Fields{
		"verb": verb,
		"peer": ch.RemoteAddr().String(),
	})

	switch verb {
	case VerbPut:
		return r.put(ctx, ch, log)
	case VerbGet:
		return r.get(ctx, ch, log)
	case VerbList:
		return r.list(ch)
	default:
		return protocol.Errorf(protocol.KindProtocol, "transfer", "unknown verb %q", verb)
	}
}

func (r *Receiver) put(ctx context.Context, ch *channel.Channel, log *logrus.Entry) error {
	raw, err := ch.ReadText()
	if err != nil {
		return err
	}
	name, err := SafeName(raw)
	if err != nil {
		_ = ch.WriteText(ReplyInvalid)
		return err
	}
	if err := ch.WriteText(protocol.MsgOK); err != nil {
		return err
	}

	path := filepath.Join(r.Dir, name)
	start := time.Now()
	size, err := ch.ReadFile(path, nil)
	if err != nil {
		return fmt.Errorf("receiving %s: %w", name, err)
	}
	elapsed := time.Since(start)

	if err := ch.WriteText(protocol.MsgOK); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"file":   name,
		"chunks": channel.ChunkCount(size, ch.Options().BufferSize),
	}).Infof("Received %s in %s", sizestr.ToString(size), elapsed.Round(time.Millisecond))
	r.record(ctx, log, path, name, size, store.DirectionIn, ch.RemoteAddr().String(), elapsed)
	return nil
}

func (r *Receiver) get(ctx context.Context, ch *channel.Channel, log *logrus.Entry) error {
	raw, err := ch.ReadText()
	if err != nil {
		return err
	}
	name, err := SafeName(raw)
	if err != nil {
		return ch.WriteText(ReplyMissing)
	}

	path := filepath.Join(r.Dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		log.WithField("file", name).Debug("Requested file not found")
		return ch.WriteText(ReplyMissing)
	}

	if err := ch.WriteText(protocol.MsgOK); err != nil {
		return err
	}

	start := time.Now()
	size, err := ch.WriteFile(path, nil)
	if err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	elapsed := time.Since(start)

	log.WithFields(logrus.Fields{
		"file":   name,
		"chunks": channel.ChunkCount(size, ch.Options().BufferSize),
	}).Infof("Sent %s in %s", sizestr.ToString(size), elapsed.Round(time.Millisecond))
	r.record(ctx, log, path, name, size, store.DirectionOut, ch.RemoteAddr().String(), elapsed)
	return nil
}

func (r *Receiver) list(ch *channel.Channel) error {
	names, err := listFiles(r.Dir)
	if err != nil {
		return err
	}
	if err := ch.WriteInt(int32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		if err := ch.WriteText(name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Receiver) record(ctx context.Context, log *logrus.Entry, path, name string, size int64, direction, peer string, elapsed time.Duration) {
	if r.Store == nil {
		return
	}

	checksum, err := HashPath(path)
	if err != nil {
		log.WithError(err).Warn("Failed to hash file for ledger")
	}

	err = r.Store.Record(ctx, &store.Transfer{
		Name:       name,
		Size:       size,
		Checksum:   checksum,
		Direction:  direction,
		Peer:       peer,
		DurationMs: elapsed.Milliseconds(),
	})
	if err != nil {
		log.WithError(err).Warn("Failed to record transfer")
	}
}
