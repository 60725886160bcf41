package hetero

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Message types; the first byte of every binary frame.
const (
	msgPrefill byte = 0x00
	msgVerify  byte = 0x01
)

// ErrVerifyTimeout is returned when the verifier does not answer in time.
var ErrVerifyTimeout = errors.New("hetero: verify timed out")

// Verifier is a WebSocket client for the remote target model. Frames are a
// message-type byte followed by little-endian int32 token ids.
type Verifier struct {
	conn    *websocket.Conn
	replies chan []int32
	done    chan struct{}
	wmu     sync.Mutex
	err     error // read loop exit cause, valid after done is closed
	log     zerolog.Logger
	once    sync.Once
}

// Dial connects to endpoint, failing after timeout.
func Dial(ctx context.Context, endpoint string, timeout time.Duration, log zerolog.Logger) (*Verifier, error) {
	if endpoint == "" {
		return nil, errors.New("hetero: empty verifier endpoint")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	d := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := d.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("hetero: dial %s: %w", endpoint, err)
	}
	v := &Verifier{
		conn:    conn,
		replies: make(chan []int32, 1),
		done:    make(chan struct{}),
		log:     log,
	}
	go v.readLoop()
	return v, nil
}

func (v *Verifier) readLoop() {
	defer close(v.done)
	for {
		mt, data, err := v.conn.ReadMessage()
		if err != nil {
			v.err = err
			return
		}
		if mt != websocket.BinaryMessage || len(data) == 0 || data[0] != msgVerify {
			continue
		}
		toks, err := decodeTokens(data[1:])
		if err != nil {
			v.log.Warn().Err(err).Msg("dropping malformed verify reply")
			continue
		}
		// Keep only the newest reply.
		select {
		case v.replies <- toks:
		default:
			select {
			case <-v.replies:
			default:
			}
			v.replies <- toks
		}
	}
}

// Prefill sends the full prompt to the target model.
func (v *Verifier) Prefill(tokens []int32) error {
	return v.send(msgPrefill, tokens)
}

// Verify sends draft tokens and waits up to wait for the accepted sequence.
func (v *Verifier) Verify(draft []int32, wait time.Duration) ([]int32, error) {
	select {
	case <-v.replies:
	default:
	}
	if err := v.send(msgVerify, draft); err != nil {
		return nil, err
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case toks := <-v.replies:
		if len(toks) == 0 {
			return nil, ErrVerifyTimeout
		}
		return toks, nil
	case <-v.done:
		return nil, fmt.Errorf("hetero: verifier connection closed: %w", v.err)
	case <-timer.C:
		return nil, ErrVerifyTimeout
	}
}

func (v *Verifier) send(kind byte, tokens []int32) error {
	v.wmu.Lock()
	defer v.wmu.Unlock()
	if err := v.conn.WriteMessage(websocket.BinaryMessage, encodeFrame(kind, tokens)); err != nil {
		return fmt.Errorf("hetero: send: %w", err)
	}
	return nil
}

// Close sends a close frame, drops the connection and waits for the reader.
func (v *Verifier) Close() error {
	var err error
	v.once.Do(func() {
		v.wmu.Lock()
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		v.wmu.Unlock()
		err = v.conn.Close()
		<-v.done
	})
	return err
}

func encodeFrame(kind byte, tokens []int32) []byte {
	buf := make([]byte, 1+4*len(tokens))
	buf[0] = kind
	for i, t := range tokens {
		binary.LittleEndian.PutUint32(buf[1+4*i:], uint32(t))
	}
	return buf
}

func decodeTokens(b []byte) ([]int32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("hetero: payload of %d bytes is not a whole number of tokens", len(b))
	}
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
