package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/someipd/internal/endpoint"
	"github.com/danmuck/someipd/internal/logging"
	"github.com/danmuck/someipd/internal/participant"
	"github.com/danmuck/someipd/internal/protocol"
	"github.com/danmuck/someipd/internal/protocol/frame"
	"github.com/danmuck/someipd/internal/reactor"
	"github.com/danmuck/someipd/internal/transport"
	"github.com/rs/zerolog/log"
)

type options struct {
	addr     string
	proto    string
	service  string
	method   string
	request  string
	msgType  string
	payload  string
	hexBody  bool
	count    int
	cookie   bool
	wait     time.Duration
	retries  int
	interval time.Duration
	// read switches to a blocking exchange of one response per request.
	read       bool
	maxPayload uint
}

func main() {
	var o options
	flag.StringVar(&o.addr, "addr", "127.0.0.1:30490", "daemon address")
	flag.StringVar(&o.proto, "proto", "tcp", "transport: tcp|udp")
	flag.StringVar(&o.service, "service", "0x1234", "service id")
	flag.StringVar(&o.method, "method", "0x0001", "method id")
	flag.StringVar(&o.request, "request", "0x00000001", "request id (client<<16 | session)")
	flag.StringVar(&o.msgType, "type", "request", "message type: request|fire|notification|response|error")
	flag.StringVar(&o.payload, "payload", "", "payload text")
	flag.BoolVar(&o.hexBody, "hex", false, "payload is hex encoded")
	flag.IntVar(&o.count, "count", 1, "messages to send")
	flag.BoolVar(&o.cookie, "cookie", false, "precede each message with a magic cookie")
	flag.DurationVar(&o.wait, "wait", 0, "how long to wait for responses")
	flag.IntVar(&o.retries, "retries", 3, "dial attempts")
	flag.DurationVar(&o.interval, "interval", 0, "delay between messages")
	flag.BoolVar(&o.read, "read", false, "block for one response per request (tcp only)")
	flag.UintVar(&o.maxPayload, "max-payload", 0, "largest response payload accepted with -read (0 = 64KiB)")
	flag.Parse()

	logging.ConfigureRuntime()
	var err error
	if o.read {
		err = runExchange(context.Background(), o)
	} else {
		err = run(context.Background(), o)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "someipctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	msg, err := buildMessage(o)
	if err != nil {
		return err
	}
	proto, err := endpoint.ParseProtocol(strings.ToLower(o.proto))
	if err != nil {
		return err
	}

	exec := reactor.New()
	conn, err := transport.DialRetry(ctx, proto, o.addr, exec, 0, o.retries, transport.DefaultBackoff())
	if err != nil {
		return err
	}
	defer conn.Close()

	cfg := participant.DefaultConfig()
	// cookies are only emitted by a participant that can also resync on them
	cfg.SupportsResync = o.cookie
	cfg.SendMagicCookies = o.cookie
	p, err := participant.New(cfg, conn, participant.WithExecutor(exec))
	if err != nil {
		return err
	}
	defer p.Close()

	printer := &responsePrinter{}
	p.Register(printer, msg.Header.Service, msg.Header.Method)
	defer p.Unregister(printer, msg.Header.Service, msg.Header.Method)
	conn.Bind(p.Received)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := conn.Serve(readCtx); err != nil {
			log.Debug().Err(err).Msg("read loop ended")
		}
	}()

	for i := 0; i < o.count; i++ {
		wire, err := p.Frame(msg)
		if err != nil {
			return err
		}
		if err := conn.Send(wire); err != nil {
			return err
		}
		log.Info().Str("to", conn.Remote().String()).Str("message", msg.String()).Bool("cookie", p.IsSendingMagicCookies()).Msg("sent")
		msg.Header.Request++
		if o.interval > 0 {
			time.Sleep(o.interval)
		}
	}

	deadline := time.Now().Add(o.wait)
	for time.Now().Before(deadline) {
		if p.Poll() == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	p.Poll()
	if o.wait > 0 {
		log.Info().Int("responses", printer.count).Msg("done")
	}
	return nil
}

func runExchange(ctx context.Context, o options) error {
	msg, err := buildMessage(o)
	if err != nil {
		return err
	}
	printer := &responsePrinter{}
	responses, err := exchange(ctx, o, msg)
	for _, resp := range responses {
		printer.Receive(resp)
	}
	return err
}

// exchange writes each message on a blocking socket and reads one response
// after it. Magic cookies from the peer are skipped. The responses read so far
// are returned along with any error.
func exchange(ctx context.Context, o options, msg *protocol.Message) ([]*protocol.Message, error) {
	if !strings.EqualFold(strings.TrimSpace(o.proto), "tcp") {
		return nil, fmt.Errorf("-read needs tcp, got %q", o.proto)
	}
	limits := frame.DefaultLimits()
	if o.maxPayload > 0 {
		if o.maxPayload > uint(^uint32(0)) {
			return nil, fmt.Errorf("max-payload %d out of range", o.maxPayload)
		}
		limits.MaxPayloadBytes = uint32(o.maxPayload)
	}
	wait := o.wait
	if wait <= 0 {
		wait = 5 * time.Second
	}

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", o.addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	from := endpoint.FromAddr(c.RemoteAddr())

	var out []*protocol.Message
	for i := 0; i < max(o.count, 1); i++ {
		if o.cookie {
			if _, err := c.Write(frame.Cookie()); err != nil {
				return out, err
			}
		}
		if err := frame.WriteFrame(c, msg, limits); err != nil {
			return out, err
		}
		log.Info().Str("to", o.addr).Str("message", msg.String()).Bool("cookie", o.cookie).Msg("sent")
		msg.Header.Request++

		resp, err := readResponse(c, limits, time.Now().Add(wait))
		if err != nil {
			return out, err
		}
		resp.Sender = from
		out = append(out, resp)
	}
	return out, nil
}

func readResponse(c net.Conn, limits frame.Limits, deadline time.Time) (*protocol.Message, error) {
	if err := c.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		resp, err := frame.ReadFrame(c, limits)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if !frame.IsCookieMessage(resp) {
			return resp, nil
		}
	}
}

func buildMessage(o options) (*protocol.Message, error) {
	service, err := parseUint(o.service, 16)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	method, err := parseUint(o.method, 16)
	if err != nil {
		return nil, fmt.Errorf("method: %w", err)
	}
	request, err := parseUint(o.request, 32)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	msgType, err := parseType(o.msgType)
	if err != nil {
		return nil, err
	}
	payload := []byte(o.payload)
	if o.hexBody {
		payload, err = hex.DecodeString(strings.TrimSpace(o.payload))
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
	}
	msg := protocol.NewMessage(protocol.ServiceID(service), protocol.MethodID(method), payload)
	msg.Header.Request = protocol.RequestID(request)
	msg.Header.Type = msgType
	return msg, nil
}

func parseUint(raw string, bits int) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 0, bits)
}

func parseType(raw string) (protocol.MessageType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "request":
		return protocol.MessageTypeRequest, nil
	case "fire", "request_no_return":
		return protocol.MessageTypeRequestNoReturn, nil
	case "notification", "event":
		return protocol.MessageTypeNotification, nil
	case "response":
		return protocol.MessageTypeResponse, nil
	case "error":
		return protocol.MessageTypeError, nil
	default:
		return 0, fmt.Errorf("unknown message type %q", raw)
	}
}

// responsePrinter runs on the caller goroutine through Poll.
type responsePrinter struct {
	count int
}

func (r *responsePrinter) Receive(msg *protocol.Message) {
	r.count++
	fmt.Printf("%s from=%s payload=%x\n", msg, msg.Sender, msg.Payload)
}
