package channel

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/SlappyBacon/pico/internal/protocol"
	"github.com/SlappyBacon/pico/internal/telemetry"
	"github.com/hashicorp/go-metrics"
	"lukechampine.com/blake3"
)

// FailureBudget is the number of failed chunk deliveries a pipe of total
// bytes tolerates: one tenth of the chunk count, rounded down.
func FailureBudget(total int64, bufferSize int) int {
	if bufferSize <= 0 {
		return 0
	}
	return int(total / int64(bufferSize) / 10)
}

// ChunkCount is the number of chunks a pipe of total bytes is split into.
func ChunkCount(total int64, bufferSize int) int {
	if bufferSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(bufferSize) - 1) / int64(bufferSize))
}

const hashSize = 32

func chunkHash(chunk []byte) []byte {
	sum := blake3.Sum256(chunk)
	return sum[:]
}

// PipeOut streams total bytes from r to the peer in BufferSize chunks. Each
// chunk is followed by its hash; the peer answers "ok" or asks for the same
// chunk again. The transfer fails with an integrity error once rejected
// deliveries exceed FailureBudget. progress, if not nil, receives every
// accepted chunk.
func (c *Channel) PipeOut(r io.Reader, total int64, progress io.Writer) error {
	bufferSize := c.opts.BufferSize
	budget := FailureBudget(total, bufferSize)
	labels := []metrics.Label{telemetry.LabelDirection.M("out")}

	buf := make([]byte, bufferSize)
	failures := 0
	var sent int64

	for index := 0; sent < total; index++ {
		want := int64(bufferSize)
		if remaining := total - sent; remaining < want {
			want = remaining
		}

		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			_ = c.Close()
			return protocol.NewError(protocol.KindIntegrity, "pipe out",
				fmt.Errorf("reading chunk %d from source: %w", index, err))
		}
		chunk := buf[:n]
		sum := chunkHash(chunk)

		for attempt := 0; ; attempt++ {
			wire := chunk
			if c.tamper != nil {
				wire = c.tamper(index, attempt, append([]byte(nil), chunk...))
			}

			if err := c.WriteByteArray(wire); err != nil {
				return err
			}
			if err := c.WriteByteArray(sum); err != nil {
				return err
			}

			reply, err := c.ReadText()
			if err != nil {
				return err
			}
			if reply == protocol.MsgOK {
				break
			}
			if reply != protocol.MsgRetry {
				return protocol.Errorf(protocol.KindProtocol, "pipe out", "unexpected reply %q", reply)
			}

			failures++
			c.msink.IncrCounterWithLabels(telemetry.MetricPipeRetries, 1, labels)
			if failures > budget {
				return protocol.Errorf(protocol.KindIntegrity, "pipe out",
					"%d rejected chunks exceeds budget of %d", failures, budget)
			}
		}

		sent += int64(n)
		c.msink.IncrCounterWithLabels(telemetry.MetricPipeChunks, 1, labels)
		c.msink.IncrCounterWithLabels(telemetry.MetricPipeBytes, float32(n), labels)
		if progress != nil {
			_, _ = progress.Write(chunk)
		}
	}

	return nil
}

// PipeIn is the receiving end of PipeOut. It holds at most one chunk in
// memory and writes each verified chunk to w before acknowledging it. Frames
// larger than BufferSize are refused.
func (c *Channel) PipeIn(w io.Writer, total int64, progress io.Writer) error {
	bufferSize := c.opts.BufferSize
	limit := max(bufferSize, hashSize)
	budget := FailureBudget(total, bufferSize)
	labels := []metrics.Label{telemetry.LabelDirection.M("in")}

	failures := 0
	var received int64

	for index := 0; received < total; index++ {
		want := int64(bufferSize)
		if remaining := total - received; remaining < want {
			want = remaining
		}

		for {
			chunk, err := c.readPayloadMax("pipe in", limit)
			if err != nil {
				return err
			}
			sum, err := c.readPayloadMax("pipe in", limit)
			if err != nil {
				return err
			}

			if int64(len(chunk)) == want && bytes.Equal(chunkHash(chunk), sum) {
				if _, err := w.Write(chunk); err != nil {
					_ = c.Close()
					return protocol.NewError(protocol.KindIntegrity, "pipe in",
						fmt.Errorf("writing chunk %d to sink: %w", index, err))
				}
				if err := c.WriteText(protocol.MsgOK); err != nil {
					return err
				}
				received += want
				c.msink.IncrCounterWithLabels(telemetry.MetricPipeChunks, 1, labels)
				c.msink.IncrCounterWithLabels(telemetry.MetricPipeBytes, float32(want), labels)
				if progress != nil {
					_, _ = progress.Write(chunk)
				}
				break
			}

			if err := c.WriteText(protocol.MsgRetry); err != nil {
				return err
			}
			failures++
			c.msink.IncrCounterWithLabels(telemetry.MetricPipeRetries, 1, labels)
			if failures > budget {
				return protocol.Errorf(protocol.KindIntegrity, "pipe in",
					"%d corrupt chunks exceeds budget of %d", failures, budget)
			}
		}
	}

	return nil
}

// WriteFile sends the file at path: its length as one long, then the pipe.
func (c *Channel) WriteFile(path string, progress io.Writer) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}

	size := info.Size()
	if err := c.WriteLong(size); err != nil {
		return 0, err
	}
	if err := c.PipeOut(f, size, progress); err != nil {
		return 0, err
	}
	return size, nil
}

// ReadFile receives a file sent with WriteFile into path. Data lands in a
// temporary file next to path and is renamed into place only once the whole
// transfer has been verified.
func (c *Channel) ReadFile(path string, progress io.Writer) (int64, error) {
	size, err := c.ReadLong()
	if err != nil {
		return 0, err
	}
	if size < 0 {
		_ = c.Close()
		return 0, protocol.Errorf(protocol.KindProtocol, "read file", "negative length %d", size)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part-*")
	if err != nil {
		_ = c.Close()
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := c.PipeIn(tmp, size, progress); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, err
	}
	return size, nil
}
