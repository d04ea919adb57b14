package tokenizer

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 按 tiktoken 编码名计数.
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktokenTokenizer 为给定编码（如 cl100k_base）创建分词器，编码数据在首次使用时加载.
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	return &TiktokenTokenizer{encoding: encoding}
}

// init lazily 初始化 tiktoken 编码.
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Load 强制加载编码数据，返回加载错误.
func (t *TiktokenTokenizer) Load() error {
	return t.init()
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// =============================================================================
// 本地目录 BPE 加载
// =============================================================================

// DirLoader 只从本地目录读取 <encoding>.tiktoken 文件，不访问网络.
type DirLoader struct {
	Dir string
}

// LoadTiktokenBpe 实现 tiktoken.BpeLoader. 参数是 tiktoken 内置的下载地址，只取其文件名.
func (l *DirLoader) LoadTiktokenBpe(tiktokenBpeFile string) (map[string]int, error) {
	name := path.Base(tiktokenBpeFile)
	f, err := os.Open(filepath.Join(l.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("open bpe file %s: %w", name, err)
	}
	defer f.Close()

	ranks := make(map[string]int)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%s:%d: expected \"<base64> <rank>\"", name, lineNo)
		}
		token, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: decode token: %w", name, lineNo, err)
		}
		rank, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: parse rank: %w", name, lineNo, err)
		}
		ranks[string(token)] = rank
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read bpe file %s: %w", name, err)
	}
	return ranks, nil
}

// UseDirectory 让 tiktoken 从 dir 加载 BPE 数据. 作用于整个进程.
func UseDirectory(dir string) {
	tiktoken.SetBpeLoader(&DirLoader{Dir: dir})
}
