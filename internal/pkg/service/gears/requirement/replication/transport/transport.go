// Package transport provides the network layer of the requirements replication.
//
// A primary holds one TCP connection per replica, multiplexed by yamux.
// Each message is sent in its own stream:
//
//	shardID u32 | bundleLen u64 | bundle
//
// The replica replies with one line, "OK" or "ERR <message>".
package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/yamux"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	frameHeaderLen = 4 + 8
	replyOK        = "OK"
	replyErrPrefix = "ERR "
)

// RemoteError is an error reported by the replica, the message has been delivered.
type RemoteError struct {
	Message string
}

func (e RemoteError) Error() string {
	return "replica rejected message: " + e.Message
}

// MessageTooLargeError is returned by the replica, if the declared bundle length exceeds its limit.
type MessageTooLargeError struct {
	Length uint64
	Limit  datasize.ByteSize
}

func (e MessageTooLargeError) Error() string {
	return fmt.Sprintf("bundle length %d exceeds limit %s", e.Length, e.Limit.String())
}

func multiplexerConfig(logger log.Logger) *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = true
	cfg.KeepAliveInterval = 10 * time.Second
	cfg.ConnectionWriteTimeout = 30 * time.Second
	cfg.LogOutput = nil
	cfg.Logger = log.NewStdErrorLogger(logger.WithComponent("mux"))
	return cfg
}

func writeFrame(w io.Writer, shardID int, bundle []byte) error {
	header := make([]byte, 0, frameHeaderLen)
	header = binary.BigEndian.AppendUint32(header, uint32(shardID))
	header = binary.BigEndian.AppendUint64(header, uint64(len(bundle)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(bundle)
	return err
}

// readFrame reads one message, the buffer grows with the received data, not with the declared length.
func readFrame(r io.Reader, limit datasize.ByteSize) (int, []byte, error) {
	header := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	shardID := int(binary.BigEndian.Uint32(header[0:4]))
	length := binary.BigEndian.Uint64(header[4:12])
	if length > limit.Bytes() {
		return shardID, nil, MessageTooLargeError{Length: length, Limit: limit}
	}

	var bundle bytes.Buffer
	n, err := bundle.ReadFrom(io.LimitReader(r, int64(length)))
	if err != nil {
		return 0, nil, err
	}
	if uint64(n) != length {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return shardID, bundle.Bytes(), nil
}

func writeReply(w io.Writer, err error) error {
	reply := replyOK
	if err != nil {
		reply = replyErrPrefix + strings.ReplaceAll(err.Error(), "\n", " ")
	}
	_, wErr := io.WriteString(w, reply+"\n")
	return wErr
}

func readReply(r io.Reader) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		return errors.PrefixError(err, "cannot read reply")
	}

	line = strings.TrimSuffix(line, "\n")
	switch {
	case line == replyOK:
		return nil
	case strings.HasPrefix(line, replyErrPrefix):
		return RemoteError{Message: strings.TrimPrefix(line, replyErrPrefix)}
	default:
		return errors.Errorf(`unexpected reply "%s"`, line)
	}
}
