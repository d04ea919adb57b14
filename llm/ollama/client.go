package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/tlsutil"
	"github.com/BaSui01/chatrelay/types"
)

// DefaultMaxBlankLines 连续空行上限的默认值.
const DefaultMaxBlankLines = 1000

// Client 是 /api/chat 的流式客户端.
type Client struct {
	url           string
	http          *http.Client
	logger        *zap.Logger
	maxBlankLines int
}

// NewClient 根据后端配置创建客户端. HTTP 客户端不设整体超时.
func NewClient(cfg config.BackendConfig, logger *zap.Logger) *Client {
	return NewClientWithHTTP(cfg, tlsutil.StreamingHTTPClient(cfg.ConnectTimeout, cfg.ResponseHeaderTimeout), logger)
}

// NewClientWithHTTP 使用给定的 http.Client 创建客户端.
func NewClientWithHTTP(cfg config.BackendConfig, hc *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBlank := cfg.MaxBlankLines
	if maxBlank <= 0 {
		maxBlank = DefaultMaxBlankLines
	}
	return &Client{
		url:           cfg.URL,
		http:          hc,
		logger:        logger.With(zap.String("component", "ollama_client")),
		maxBlankLines: maxBlank,
	}
}

// URL 返回后端地址.
func (c *Client) URL() string { return c.url }

// Ping 请求后端根路径，用于就绪检查. 只要求返回 2xx.
func (c *Client) Ping(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse backend url: %w", err)
	}
	root := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, root.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}

// Stream 发送请求并返回响应流. 连接失败或非 2xx 响应返回 UPSTREAM_CONNECTION_LOST.
// 取消 ctx 会中止请求并关闭响应体.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode chat request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamConnectionLost, "build backend request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamConnectionLost, "backend unreachable").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg := readErrorMessage(resp.Body)
		return nil, types.NewError(types.ErrUpstreamConnectionLost,
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, msg)).
			WithHTTPStatus(http.StatusBadGateway)
	}

	return &Stream{
		body:          resp.Body,
		reader:        bufio.NewReader(resp.Body),
		maxBlankLines: c.maxBlankLines,
		logger:        c.logger,
		skipLog:       &rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}, nil
}

// Stream 是一次请求的 NDJSON 响应流，只能由一个 goroutine 读取.
type Stream struct {
	body          io.ReadCloser
	reader        *bufio.Reader
	maxBlankLines int
	blankLines    int
	skipped       int
	logger        *zap.Logger
	skipLog       *rate.Sometimes
}

// Next 返回下一行非空内容（不含换行）. 流正常结束返回 io.EOF，
// 读取失败与连续空行过多返回 UPSTREAM_CONNECTION_LOST.
func (s *Stream) Next() ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)

		if len(trimmed) > 0 {
			s.blankLines = 0
			// 最后一行可能没有换行符，先交给调用方，下一次调用再返回 EOF
			return trimmed, nil
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, types.NewError(types.ErrUpstreamConnectionLost, "read backend stream").WithCause(err)
		}

		s.blankLines++
		s.skipped++
		s.skipLog.Do(func() {
			s.logger.Debug("skipping keep-alive line",
				zap.Int("consecutive", s.blankLines),
				zap.Int("skipped_total", s.skipped))
		})
		if s.blankLines > s.maxBlankLines {
			return nil, types.NewError(types.ErrUpstreamConnectionLost,
				fmt.Sprintf("backend sent more than %d consecutive blank lines", s.maxBlankLines))
		}
	}
}

// Close 关闭响应体.
func (s *Stream) Close() error {
	return s.body.Close()
}

// readErrorMessage 读取响应体中的错误消息
// 尝试解析 {"error": "..."}，失败则回退到截断的原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}

	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "empty response body"
	}
	return msg
}
