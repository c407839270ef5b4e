package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/internal/tlsutil"
)

// Transport MCP 传输层接口
type Transport interface {
	// Send 发送消息
	Send(ctx context.Context, msg *MCPMessage) error
	// Receive 接收消息（阻塞）
	Receive(ctx context.Context) (*MCPMessage, error)
	// Close 关闭传输
	Close() error
}

// ErrTransportClosed is returned by Receive after Close.
var ErrTransportClosed = errors.New("mcp: transport closed")

// Framing selects how messages are delimited on a byte stream.
type Framing string

const (
	// FramingContentLength LSP 风格 Content-Length 头
	FramingContentLength Framing = "content-length"
	// FramingNDJSON 每行一个 JSON 消息
	FramingNDJSON Framing = "ndjson"
)

// ---------------------------------------------------------------------------
// StreamTransport 字节流传输（stdio / 管道）
// ---------------------------------------------------------------------------

// StreamTransport frames JSON-RPC messages over a reader/writer pair.
type StreamTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	closer  io.Closer
	framing Framing
	writeMu sync.Mutex
	readMu  sync.Mutex
	logger  *zap.Logger
}

// NewStreamTransport 创建字节流传输。closer 可为 nil。
func NewStreamTransport(r io.Reader, w io.Writer, closer io.Closer, framing Framing, logger *zap.Logger) *StreamTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if framing == "" {
		framing = FramingContentLength
	}
	return &StreamTransport{
		reader:  bufio.NewReader(r),
		writer:  w,
		closer:  closer,
		framing: framing,
		logger:  logger.With(zap.String("component", "mcp_stream_transport")),
	}
}

// Send 发送消息
func (t *StreamTransport) Send(ctx context.Context, msg *MCPMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var frame []byte
	switch t.framing {
	case FramingNDJSON:
		frame = append(body, '\n')
	default:
		frame = append([]byte(fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))), body...)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive 接收下一条消息。底层读取不响应 ctx，关闭传输可解除阻塞。
func (t *StreamTransport) Receive(ctx context.Context) (*MCPMessage, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	var (
		body []byte
		err  error
	)
	if t.framing == FramingNDJSON {
		body, err = t.readLine()
	} else {
		body, err = t.readContentLength()
	}
	if err != nil {
		return nil, err
	}

	var msg MCPMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

func (t *StreamTransport) readLine() ([]byte, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (t *StreamTransport) readContentLength() ([]byte, error) {
	length := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				// 消息之间的空行
				continue
			}
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", value)
			}
			length = n
		}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Close 关闭底层流
func (t *StreamTransport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// ---------------------------------------------------------------------------
// ProcessTransport 子进程 stdio 传输
// ---------------------------------------------------------------------------

// ProcessTransport runs an MCP server as a child process and talks to it
// over stdin/stdout.
type ProcessTransport struct {
	*StreamTransport

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	waitDone  chan struct{}
	waitErr   error
	closeOnce sync.Once
	logger    *zap.Logger
}

// StartProcess 启动子进程并返回传输
func StartProcess(ctx context.Context, command string, args []string, env map[string]string, framing Framing, logger *zap.Logger) (*ProcessTransport, error) {
	if command == "" {
		return nil, fmt.Errorf("mcp: command is required for stdio transport")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "mcp_process"), zap.String("command", command))

	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	p := &ProcessTransport{
		StreamTransport: NewStreamTransport(stdout, stdin, nil, framing, logger),
		cmd:             cmd,
		stdin:           stdin,
		waitDone:        make(chan struct{}),
		logger:          logger,
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			logger.Debug("server stderr", zap.String("line", sc.Text()))
		}
	}()
	go func() {
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()

	logger.Info("MCP server process started", zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// Close closes stdin and waits briefly before killing the process.
func (p *ProcessTransport) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		select {
		case <-p.waitDone:
		case <-time.After(2 * time.Second):
			p.logger.Warn("MCP server did not exit, killing")
			_ = p.cmd.Process.Kill()
			<-p.waitDone
		}
	})
	return nil
}

// ---------------------------------------------------------------------------
// SSETransport Server-Sent Events 传输（HTTP SSE 客户端）
// ---------------------------------------------------------------------------

// SSETransport SSE 传输，GET {endpoint}/sse 接收事件，POST {endpoint}/message 发送
type SSETransport struct {
	endpoint   string
	sendURL    string
	httpClient *http.Client
	eventChan  chan *MCPMessage
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSSETransport 创建 SSE 传输
func NewSSETransport(endpoint string, logger *zap.Logger) *SSETransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint = strings.TrimRight(endpoint, "/")
	return &SSETransport{
		endpoint:   endpoint,
		sendURL:    endpoint + "/message",
		httpClient: tlsutil.SecureHTTPClient(0), // SSE 长连接不设超时
		eventChan:  make(chan *MCPMessage, 100),
		logger:     logger.With(zap.String("component", "mcp_sse_transport")),
		done:       make(chan struct{}),
	}
}

// Connect 建立 SSE 连接。事件流的生命周期独立于 ctx，由 Close 结束。
func (t *SSETransport) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.endpoint+"/sse", nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	type dialResult struct {
		resp *http.Response
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		resp, err := t.httpClient.Do(req)
		ch <- dialResult{resp, err}
	}()

	var res dialResult
	select {
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		cancel()
		return fmt.Errorf("SSE connect failed: %w", res.err)
	}
	if res.resp.StatusCode != http.StatusOK {
		res.resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE connect: unexpected status %d", res.resp.StatusCode)
	}

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.readEvents(streamCtx, res.resp.Body)
	return nil
}

func (t *SSETransport) readEvents(ctx context.Context, body io.ReadCloser) {
	defer body.Close()
	defer close(t.eventChan)

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var msg MCPMessage
			if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
				t.logger.Warn("SSE parse error", zap.Error(err))
			} else {
				select {
				case t.eventChan <- &msg:
				case <-ctx.Done():
					return
				}
			}
			data.Reset()
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(v, " "))
		}
	}
}

// Send 通过 POST /message 发送消息
func (t *SSETransport) Send(ctx context.Context, msg *MCPMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sendURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("SSE send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive 从事件通道接收消息
func (t *SSETransport) Receive(ctx context.Context) (*MCPMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	case msg, ok := <-t.eventChan:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	}
}

// Close 关闭 SSE 传输
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return nil
	default:
	}
	close(t.done)
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}
