package types

// Language tags a source file for AST-aware splitting. Unknown extensions map
// to LangOther and fall back to line chunking.
type Language string

const (
	LangRust       Language = "rust"
	LangGo         Language = "go"
	LangJava       Language = "java"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangPython     Language = "python"
	LangC          Language = "c"
	LangCpp        Language = "cpp"
	LangOther      Language = "other"
)

var extensionLanguages = map[string]Language{
	"rs":   LangRust,
	"go":   LangGo,
	"java": LangJava,
	"js":   LangJavaScript,
	"jsx":  LangJavaScript,
	"mjs":  LangJavaScript,
	"cjs":  LangJavaScript,
	"ts":   LangTypeScript,
	"tsx":  LangTypeScript,
	"py":   LangPython,
	"c":    LangC,
	"h":    LangC,
	"cpp":  LangCpp,
	"cc":   LangCpp,
	"cxx":  LangCpp,
	"hpp":  LangCpp,
	"hh":   LangCpp,
}

// LanguageForPath detects the language of a file by extension.
func LanguageForPath(path RelativePath) Language {
	if lang, ok := extensionLanguages[path.Extension()]; ok {
		return lang
	}
	return LangOther
}

// String returns the language tag.
func (l Language) String() string { return string(l) }
