// Package template はプロンプト本文のプレースホルダー抽出と変数展開を提供する。
//
// プレースホルダーは {{name}} 形式で、nameは1文字以上の単語構成文字（Unicodeの文字・数字とアンダースコア）。
// {{名前}} や {{café}} も変数として扱う。
// 閉じていない括弧や単語構成文字以外を含むマーカーは単にマッチしないだけで、エラーにはならない。
package template

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([\p{L}\p{N}_]+)\}\}`)

// ExtractVariables はcontent中のプレースホルダー名を重複なく返す。
// 返却値は名前順にソートされるが、呼び出し元は順序のない集合として扱うこと。
// プレースホルダーがない場合は空スライス（nilではない）を返す。
func ExtractVariables(content string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(content, -1)

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Marker は変数名に対応するプレースホルダー文字列 {{name}} を返す。
func Marker(name string) string {
	return "{{" + name + "}}"
}

// Render はbindingsの各名前について、content中の {{name}} をすべて値に置換する。
//
// 置換は正規表現ではなくリテラル文字列の一致で行い、元のテンプレートを1回だけ走査する。
// 値に別の {{name}} が含まれていても再展開しない。
// bindingsにない名前のプレースホルダーはそのまま残り、contentにない名前は無視される。
func Render(content string, bindings map[string]string) string {
	if len(bindings) == 0 {
		return content
	}

	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	// 同じ位置で複数のマーカーが一致する場合は長い方を優先する。
	// mapの反復順に結果が左右されないよう順序を固定する。
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	pairs := make([]string, 0, len(names)*2)
	for _, name := range names {
		pairs = append(pairs, Marker(name), bindings[name])
	}

	return strings.NewReplacer(pairs...).Replace(content)
}
