package splitter

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/sca/pkg/types"
)

// grammarFor maps a language tag to its tree-sitter grammar. TypeScript picks
// the TSX grammar by file extension.
func grammarFor(language types.Language, relativePath types.RelativePath) *sitter.Language {
	switch language {
	case types.LangRust:
		return rust.GetLanguage()
	case types.LangGo:
		return golang.GetLanguage()
	case types.LangJava:
		return java.GetLanguage()
	case types.LangJavaScript:
		return javascript.GetLanguage()
	case types.LangTypeScript:
		if strings.EqualFold(relativePath.Extension(), "tsx") {
			return tsx.GetLanguage()
		}
		return typescript.GetLanguage()
	case types.LangPython:
		return python.GetLanguage()
	case types.LangC:
		return c.GetLanguage()
	case types.LangCpp:
		return cpp.GetLanguage()
	default:
		return nil
	}
}

// astSpans parses content and returns the line spans of the root's named
// children. The second return is false when the language has no grammar or
// parsing fails, signalling the caller to use the line fallback.
func astSpans(ctx context.Context, content string, language types.Language, relativePath types.RelativePath, totalLines int) ([]lineRange, bool) {
	grammar := grammarFor(language, relativePath)
	if grammar == nil || totalLines == 0 {
		return nil, false
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)
	tree, err := parser.ParseCtx(ctx, nil, []byte(content))
	if err != nil || tree == nil {
		return nil, false
	}
	defer tree.Close()

	root := tree.RootNode()
	count := int(root.NamedChildCount())
	spans := make([]lineRange, 0, count)
	for i := 0; i < count; i++ {
		node := root.NamedChild(i)
		if node == nil {
			continue
		}
		spans = append(spans, nodeSpan(node, totalLines))
	}
	return spans, true
}

func nodeSpan(node *sitter.Node, totalLines int) lineRange {
	start := int(node.StartPoint().Row) + 1
	end := int(node.EndPoint().Row) + 1
	// A node ending at column 0 does not occupy its final line.
	if node.EndPoint().Column == 0 && end > start {
		end--
	}
	return clampRange(lineRange{start: start, end: end}, totalLines)
}
