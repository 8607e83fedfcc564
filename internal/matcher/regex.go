package matcher

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// regexProgram wraps a compiled expr program evaluating `value matches
// "<pattern>"` against a single bound variable, the same construction the
// local evaluator uses instead of hand-rolling a regexp.MatchString call.
type regexProgram struct {
	program *vm.Program
}

func compileRegexProgram(pattern string) (*regexProgram, error) {
	escaped := strings.ReplaceAll(pattern, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	source := fmt.Sprintf(`value matches "%s"`, escaped)

	program, err := expr.Compile(source, expr.Env(map[string]any{"value": ""}))
	if err != nil {
		return nil, fmt.Errorf("compile regex expression: %w", err)
	}
	return &regexProgram{program: program}, nil
}

func (p *regexProgram) run(value string) (bool, error) {
	out, err := expr.Run(p.program, map[string]any{"value": value})
	if err != nil {
		return false, fmt.Errorf("evaluate regex: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("regex evaluation returned non-boolean: %T", out)
	}
	return matched, nil
}

// matchRegex compiles pattern at most once per Matcher lifetime (subject to
// LRU eviction), mirroring the teacher's unbounded programCache but capped
// so a feed of unique, attacker-controlled patterns can't grow it forever.
func (m *Matcher) matchRegex(value, pattern string) (Result, error) {
	cached, ok := m.regexCache.Get(pattern)
	if !ok {
		prog, err := compileRegexProgram(pattern)
		cached = &cachedRegex{compiled: prog, err: err}
		m.regexCache.Add(pattern, cached)
	}
	if cached.err != nil {
		// A pattern that doesn't compile can't be evaluated locally.
		return Inconclusive, nil
	}

	matched, err := cached.compiled.run(value)
	if err != nil {
		return Inconclusive, nil
	}
	return boolResult(matched), nil
}
