package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/pkg/schema"
)

// MatchCriterion selects node classes by name. It is a closed set:
// ExactKeyword, Regex and KeywordGroup. Matching lives in Matches.
type MatchCriterion interface {
	fmt.Stringer
	isCriterion()
}

// ExactKeyword matches classes whose type contains Keyword verbatim.
type ExactKeyword struct {
	Keyword string
}

// Regex matches classes whose type matches Pattern (RE2 syntax).
type Regex struct {
	Pattern string
}

// KeywordGroup matches classes containing at least MinCount of Keywords,
// compared case-insensitively. MinCount <= 0 means all of them.
type KeywordGroup struct {
	Keywords []string
	MinCount int
}

func (ExactKeyword) isCriterion() {}
func (Regex) isCriterion() {}
func (KeywordGroup) isCriterion() {}

func (c ExactKeyword) String() string { return fmt.Sprintf("keyword(%s)", c.Keyword) }
func (c Regex) String() string { return fmt.Sprintf("regex(%s)", c.Pattern) }
func (c KeywordGroup) String() string {
	return fmt.Sprintf("keywords(%s; min=%d)", strings.Join(c.Keywords, ","), c.MinCount)
}

var regexCache sync.Map // pattern → *regexp.Regexp

func compiledRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := regexCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// Matches reports whether classType satisfies c.
func Matches(c MatchCriterion, classType string) bool {
	if classType == "" {
		return false
	}
	switch c := c.(type) {
	case ExactKeyword:
		return c.Keyword != "" && strings.Contains(classType, c.Keyword)
	case Regex:
		re, err := compiledRegex(c.Pattern)
		return err == nil && re.MatchString(classType)
	case KeywordGroup:
		if len(c.Keywords) == 0 {
			return false
		}
		need := c.MinCount
		if need <= 0 || need > len(c.Keywords) {
			need = len(c.Keywords)
		}
		lower := strings.ToLower(classType)
		hits := 0
		for _, kw := range c.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		return hits >= need
	}
	return false
}

// CheckCriterion reports criteria that can never match.
func CheckCriterion(c MatchCriterion) error {
	switch c := c.(type) {
	case nil:
		return schema.NewError(schema.ErrCodeValidation, "match criterion is nil")
	case ExactKeyword:
		if c.Keyword == "" {
			return schema.NewError(schema.ErrCodeValidation, "keyword criterion is empty")
		}
	case Regex:
		if _, err := compiledRegex(c.Pattern); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid class pattern %q", c.Pattern).WithCause(err)
		}
	case KeywordGroup:
		if len(c.Keywords) == 0 {
			return schema.NewError(schema.ErrCodeValidation, "keyword group is empty")
		}
	}
	return nil
}
