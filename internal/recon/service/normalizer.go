package service

import (
	"strings"
	"unicode"
)

type NormalizerConfig struct {
	// 默认 true；用指针区分"没配"和"配成 false"
	CaseInsensitive  *bool `yaml:"case_insensitive" mapstructure:"case_insensitive"`
	StripInnerSpaces bool  `yaml:"strip_inner_spaces" mapstructure:"strip_inner_spaces"`
}

// Normalizer 把用户提交的凭证和流水 reference 归一成可比较的 key
type Normalizer struct {
	caseInsensitive  bool
	stripInnerSpaces bool
}

func NewNormalizer(c NormalizerConfig) Normalizer {
	n := Normalizer{caseInsensitive: true, stripInnerSpaces: c.StripInnerSpaces}
	if c.CaseInsensitive != nil {
		n.caseInsensitive = *c.CaseInsensitive
	}
	return n
}

func (n Normalizer) Key(ref string) string {
	k := strings.TrimSpace(ref)
	if n.stripInnerSpaces {
		k = strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, k)
	}
	if n.caseInsensitive {
		k = strings.ToUpper(k)
	}
	return k
}
