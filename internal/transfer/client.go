package transfer

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/SlappyBacon/pico/internal/channel"
	"github.com/SlappyBacon/pico/internal/protocol"
)

// Put uploads the file at path under its base name.
func Put(ch *channel.Channel, path string, progress io.Writer) (int64, error) {
	name := filepath.Base(path)

	if err := ch.WriteText(VerbPut); err != nil {
		return 0, err
	}
	if err := ch.WriteText(name); err != nil {
		return 0, err
	}

	reply, err := ch.ReadText()
	if err != nil {
		return 0, err
	}
	if reply != protocol.MsgOK {
		return 0, fmt.Errorf("%w: %q rejected", ErrInvalidName, name)
	}

	size, err := ch.WriteFile(path, progress)
	if err != nil {
		return 0, err
	}
	if err := ch.Expect(protocol.MsgOK); err != nil {
		return 0, err
	}
	return size, nil
}

// Get downloads name into dest.
func Get(ch *channel.Channel, name, dest string, progress io.Writer) (int64, error) {
	if err := ch.WriteText(VerbGet); err != nil {
		return 0, err
	}
	if err := ch.WriteText(name); err != nil {
		return 0, err
	}

	reply, err := ch.ReadText()
	if err != nil {
		return 0, err
	}
	switch reply {
	case protocol.MsgOK:
		return ch.ReadFile(dest, progress)
	case ReplyMissing:
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	default:
		return 0, protocol.Errorf(protocol.KindProtocol, "get", "unexpected reply %q", reply)
	}
}

// List returns the names of the files the receiver holds.
func List(ch *channel.Channel) ([]string, error) {
	if err := ch.WriteText(VerbList); err != nil {
		return nil, err
	}

	n, err := ch.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, protocol.Errorf(protocol.KindProtocol, "list", "negative count %d", n)
	}

	var names []string
	for i := int32(0); i < n; i++ {
		name, err := ch.ReadText()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}
