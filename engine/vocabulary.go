package engine

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Vocabulary 把 token ID 映射为文本片段。EOS 是结束标记的 ID，其片段为空。
type Vocabulary interface {
	Size() int
	Piece(id int) string
	EOS() int
}

// PieceVocabulary 由固定片段列表构成的词表，EOS = len(pieces)。
type PieceVocabulary struct {
	pieces []string
}

// NewPieceVocabulary 创建片段词表
func NewPieceVocabulary(pieces ...string) *PieceVocabulary {
	return &PieceVocabulary{pieces: append([]string(nil), pieces...)}
}

// NewCharVocabulary 创建单字符词表。未指定字符时使用可打印 ASCII 加 \n 与 \t。
func NewCharVocabulary(runes ...rune) *PieceVocabulary {
	if len(runes) == 0 {
		for r := rune(0x20); r < 0x7f; r++ {
			runes = append(runes, r)
		}
		runes = append(runes, '\n', '\t')
	}
	pieces := make([]string, len(runes))
	for i, r := range runes {
		pieces[i] = string(r)
	}
	return &PieceVocabulary{pieces: pieces}
}

func (v *PieceVocabulary) Size() int { return len(v.pieces) + 1 }

func (v *PieceVocabulary) EOS() int { return len(v.pieces) }

func (v *PieceVocabulary) Piece(id int) string {
	if id < 0 || id >= len(v.pieces) {
		return ""
	}
	return v.pieces[id]
}

// ID 返回片段对应的 ID
func (v *PieceVocabulary) ID(piece string) (int, bool) {
	for i, p := range v.pieces {
		if p == piece {
			return i, true
		}
	}
	return 0, false
}

// ===== 🔤 tiktoken =====

// 支持的 BPE 编码
const (
	EncodingCL100K = "cl100k_base"
	EncodingO200K  = "o200k_base"
)

// TiktokenVocabulary 基于 tiktoken BPE 编码的词表。
// 解码结果不是完整 UTF-8 的 token（多字节字符被拆开）片段为空，永远不会被掩码放行。
type TiktokenVocabulary struct {
	encoding string
	limit    int

	once    sync.Once
	initErr error
	pieces  []string
}

// NewTiktokenVocabulary 创建 tiktoken 词表。limit > 0 时只使用前 limit 个 token。
// 编码数据在首次使用时加载。
func NewTiktokenVocabulary(encoding string, limit int) *TiktokenVocabulary {
	if encoding == "" {
		encoding = EncodingCL100K
	}
	return &TiktokenVocabulary{encoding: encoding, limit: limit}
}

// Load 加载编码并解码全部片段
func (v *TiktokenVocabulary) Load() error {
	v.once.Do(func() {
		enc, err := tiktoken.GetEncoding(v.encoding)
		if err != nil {
			v.initErr = fmt.Errorf("init tiktoken encoding %s: %w", v.encoding, err)
			return
		}
		var pieces []string
		for id := 0; v.limit <= 0 || id < v.limit; id++ {
			piece := enc.Decode([]int{id})
			if piece == "" && id > 0 && v.limit <= 0 {
				// 连续 ID 空间结束
				break
			}
			if !utf8.ValidString(piece) {
				piece = ""
			}
			pieces = append(pieces, piece)
		}
		v.pieces = pieces
	})
	return v.initErr
}

func (v *TiktokenVocabulary) Encoding() string { return v.encoding }

func (v *TiktokenVocabulary) Size() int { return len(v.pieces) + 1 }

func (v *TiktokenVocabulary) EOS() int { return len(v.pieces) }

func (v *TiktokenVocabulary) Piece(id int) string {
	if id < 0 || id >= len(v.pieces) {
		return ""
	}
	return v.pieces[id]
}
