package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/go-dap"
	"go.uber.org/zap"
)

// ErrConnectionLost is returned for requests that cannot complete because
// the adapter connection is gone.
var ErrConnectionLost = errors.New("debug adapter connection lost")

// Client provides request/response correlation on top of a Transport
type Client struct {
	transport *Transport
	logger    *zap.Logger
	timeout   time.Duration

	// Response handling
	pendingRequests map[int]chan dap.Message
	mu              sync.Mutex

	// Event handling
	eventHandler func(dap.Message)

	// Capabilities from initialize response
	capabilities dap.Capabilities

	// Initialization synchronization
	initialized     chan struct{}
	initializedOnce sync.Once

	// Closed when the read loop stops
	done chan struct{}

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client on transport. handler receives every event and
// is called from the read goroutine. timeout bounds each request.
func NewClient(transport *Transport, logger *zap.Logger, timeout time.Duration, handler func(dap.Message)) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport:       transport,
		logger:          logger,
		timeout:         timeout,
		pendingRequests: make(map[int]chan dap.Message),
		eventHandler:    handler,
		initialized:     make(chan struct{}),
		done:            make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}

	// Start the message reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	return c
}

// Done is closed once the client stops reading from the adapter.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readLoop continuously reads messages from the transport
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)

	consecutiveErrors := 0
	const maxConsecutiveErrors = 5

	for {
		msg, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			if isClosed(err) {
				c.logger.Info("debug adapter closed the connection", zap.Error(err))
				return
			}

			consecutiveErrors++
			c.logger.Warn("DAP transport error",
				zap.Int("attempt", consecutiveErrors),
				zap.Int("maxAttempts", maxConsecutiveErrors),
				zap.Error(err))

			// Persistent failures mean the stream is unusable
			if consecutiveErrors >= maxConsecutiveErrors {
				c.logger.Error("DAP transport: too many consecutive errors, stopping read loop")
				return
			}
			continue
		}

		consecutiveErrors = 0
		c.handleMessage(msg)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// handleMessage routes incoming messages to the appropriate handler
func (c *Client) handleMessage(msg dap.Message) {
	if resp, ok := msg.(dap.ResponseMessage); ok {
		requestSeq := resp.GetResponse().RequestSeq
		c.mu.Lock()
		ch, ok := c.pendingRequests[requestSeq]
		delete(c.pendingRequests, requestSeq)
		c.mu.Unlock()
		if ok {
			ch <- msg
		} else {
			c.logger.Debug("dropping response without a waiter", zap.Int("requestSeq", requestSeq))
		}
		return
	}

	if _, ok := msg.(*dap.InitializedEvent); ok {
		c.initializedOnce.Do(func() {
			close(c.initialized)
		})
	}

	if _, ok := msg.(dap.EventMessage); ok && c.eventHandler != nil {
		c.eventHandler(msg)
		return
	}

	c.logger.Debug("ignoring DAP message", zap.String("type", fmt.Sprintf("%T", msg)))
}

// sendAsync sends a request and returns the channel its response arrives on
func (c *Client) sendAsync(req dap.RequestMessage) (chan dap.Message, error) {
	seq := c.transport.NextSeq()
	r := req.GetRequest()
	r.Seq = seq
	r.Type = "request"

	respCh := make(chan dap.Message, 1)
	c.mu.Lock()
	c.pendingRequests[seq] = respCh
	c.mu.Unlock()

	if err := c.transport.Send(req); err != nil {
		c.forget(seq)
		return nil, err
	}
	return respCh, nil
}

func (c *Client) forget(seq int) {
	c.mu.Lock()
	delete(c.pendingRequests, seq)
	c.mu.Unlock()
}

// wait blocks until the response on respCh arrives or the request gives up
func (c *Client) wait(ctx context.Context, seq int, command string, respCh chan dap.Message, timeout time.Duration) (dap.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		c.forget(seq)
		return nil, fmt.Errorf("%s request timed out after %s", command, timeout)
	case <-ctx.Done():
		c.forget(seq)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionLost
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// call sends req, waits for its response and checks that it succeeded
func call[T dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage) (T, error) {
	return callTimeout[T](ctx, c, req, c.timeout)
}

func callTimeout[T dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage, timeout time.Duration) (T, error) {
	var zero T
	respCh, err := c.sendAsync(req)
	if err != nil {
		return zero, err
	}
	command := req.GetRequest().Command
	resp, err := c.wait(ctx, req.GetRequest().Seq, command, respCh, timeout)
	if err != nil {
		return zero, err
	}
	return checkResponse[T](command, resp)
}

func checkResponse[T dap.ResponseMessage](command string, resp dap.Message) (T, error) {
	var zero T
	if errResp, ok := resp.(*dap.ErrorResponse); ok {
		return zero, fmt.Errorf("%s failed: %s", command, errorMessage(errResp))
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: %T", resp)
	}
	if r := typed.GetResponse(); !r.Success {
		return zero, fmt.Errorf("%s failed: %s", command, r.Message)
	}
	return typed, nil
}

func errorMessage(resp *dap.ErrorResponse) string {
	if resp.Body.Error != nil && resp.Body.Error.Format != "" {
		return resp.Body.Error.Format
	}
	return resp.Message
}

func request(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Initialize sends the initialize request
func (c *Client) Initialize(ctx context.Context, clientID, clientName string) (*dap.InitializeResponse, error) {
	req := &dap.InitializeRequest{
		Request: request("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:                     clientID,
			ClientName:                   clientName,
			AdapterID:                    "dbgsync",
			Locale:                       "en-US",
			LinesStartAt1:                true,
			ColumnsStartAt1:              true,
			PathFormat:                   "path",
			SupportsVariableType:         true,
			SupportsVariablePaging:       true,
			SupportsRunInTerminalRequest: false,
		},
	}

	resp, err := call[*dap.InitializeResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	c.capabilities = resp.Body
	return resp, nil
}

// WaitInitialized waits for the initialized event
func (c *Client) WaitInitialized(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.initialized:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for initialized event")
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionLost
	}
}

// PendingStart is a launch or attach request whose response has not been
// awaited yet. Adapters may hold that response until configurationDone.
type PendingStart struct {
	command string
	seq     int
	respCh  chan dap.Message
}

// StartAsync sends a launch or attach request without waiting for its
// response
func (c *Client) StartAsync(command string, args map[string]any) (*PendingStart, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s args: %w", command, err)
	}

	var req dap.RequestMessage
	switch command {
	case "launch":
		req = &dap.LaunchRequest{Request: request(command), Arguments: argsJSON}
	case "attach":
		req = &dap.AttachRequest{Request: request(command), Arguments: argsJSON}
	default:
		return nil, fmt.Errorf("unsupported start request %q", command)
	}

	respCh, err := c.sendAsync(req)
	if err != nil {
		return nil, err
	}
	return &PendingStart{command: command, seq: req.GetRequest().Seq, respCh: respCh}, nil
}

// WaitStarted waits for the response to a request made with StartAsync
func (c *Client) WaitStarted(ctx context.Context, p *PendingStart, timeout time.Duration) error {
	resp, err := c.wait(ctx, p.seq, p.command, p.respCh, timeout)
	if err != nil {
		return err
	}
	if p.command == "launch" {
		_, err = checkResponse[*dap.LaunchResponse](p.command, resp)
	} else {
		_, err = checkResponse[*dap.AttachResponse](p.command, resp)
	}
	return err
}

// ConfigurationDone signals that configuration is complete
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := call[*dap.ConfigurationDoneResponse](ctx, c, &dap.ConfigurationDoneRequest{
		Request: request("configurationDone"),
	})
	return err
}

// Disconnect ends the debug session
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	_, err := call[*dap.DisconnectResponse](ctx, c, &dap.DisconnectRequest{
		Request: request("disconnect"),
		Arguments: &dap.DisconnectArguments{
			TerminateDebuggee: terminateDebuggee,
		},
	})
	return err
}

// StackTrace gets the stack trace for a thread
func (c *Client) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]dap.StackFrame, error) {
	resp, err := call[*dap.StackTraceResponse](ctx, c, &dap.StackTraceRequest{
		Request: request("stackTrace"),
		Arguments: dap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: startFrame,
			Levels:     levels,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.StackFrames, nil
}

// Variables gets the children of a variables reference
func (c *Client) Variables(ctx context.Context, variablesRef int) ([]dap.Variable, error) {
	resp, err := call[*dap.VariablesResponse](ctx, c, &dap.VariablesRequest{
		Request: request("variables"),
		Arguments: dap.VariablesArguments{
			VariablesReference: variablesRef,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// Evaluate evaluates an expression in a frame
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	resp, err := call[*dap.EvaluateResponse](ctx, c, &dap.EvaluateRequest{
		Request: request("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evalContext,
		},
	})
	if err != nil {
		return nil, err
	}
	return &resp.Body, nil
}

// SetBreakpoints replaces the breakpoints of a source file
func (c *Client) SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	resp, err := call[*dap.SetBreakpointsResponse](ctx, c, &dap.SetBreakpointsRequest{
		Request: request("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      source,
			Breakpoints: breakpoints,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// Capabilities returns the capabilities from the initialize response
func (c *Client) Capabilities() dap.Capabilities {
	return c.capabilities
}

// Close shuts down the client. Pending requests fail.
func (c *Client) Close() error {
	c.cancel()
	err := c.transport.Close()
	c.wg.Wait()
	return err
}
