package tokenizer

import (
	"fmt"
	"sync"

	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/types"
)

// Catalog 根据模型配置解析上下文窗口与分词器.
//
// 分词器按编码名缓存，多个模型共享同一编码时只加载一次；
// 加载失败同样被缓存，之后对同一模型的请求直接返回 TOKENIZER_UNAVAILABLE.
type Catalog struct {
	limits          map[string]int
	encodings       map[string]string
	defaultEncoding string

	mu    sync.Mutex
	cache map[string]Tokenizer
}

// NewCatalog 从模型配置创建目录. 配置中的 map 会被复制.
func NewCatalog(cfg config.ModelsConfig) *Catalog {
	c := &Catalog{
		limits:          make(map[string]int, len(cfg.ContextLimits)),
		encodings:       make(map[string]string, len(cfg.Encodings)),
		defaultEncoding: cfg.DefaultEncoding,
		cache:           make(map[string]Tokenizer),
	}
	for k, v := range cfg.ContextLimits {
		c.limits[k] = v
	}
	for k, v := range cfg.Encodings {
		c.encodings[k] = v
	}
	return c
}

// ContextLimit 返回模型的上下文窗口大小.
func (c *Catalog) ContextLimit(model string) (int, bool) {
	limit, ok := c.limits[model]
	return limit, ok
}

// Models 返回已配置上下文窗口的模型数.
func (c *Catalog) Models() int {
	return len(c.limits)
}

// Tokenizer 返回模型对应的分词器.
func (c *Catalog) Tokenizer(model string) (Tokenizer, error) {
	encoding := c.encodings[model]
	if encoding == "" {
		encoding = c.defaultEncoding
	}
	if encoding == "" {
		return nil, types.NewError(types.ErrTokenizerUnavailable,
			fmt.Sprintf("no tokenizer configured for model %q", model))
	}

	c.mu.Lock()
	tok, ok := c.cache[encoding]
	if !ok {
		tok = newTokenizer(encoding)
		c.cache[encoding] = tok
	}
	c.mu.Unlock()

	if tt, ok := tok.(*TiktokenTokenizer); ok {
		if err := tt.Load(); err != nil {
			return nil, types.NewError(types.ErrTokenizerUnavailable,
				fmt.Sprintf("tokenizer for model %q unavailable", model)).WithCause(err)
		}
	}
	return tok, nil
}

func newTokenizer(encoding string) Tokenizer {
	if encoding == EncodingEstimator {
		return NewEstimatorTokenizer()
	}
	return NewTiktokenTokenizer(encoding)
}
