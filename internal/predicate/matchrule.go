package predicate

import (
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
)

// regexCache avoids recompiling a predicate's regex on every block;
// matchers are invoked once per transaction so this matters for busy
// chains.
var regexCache sync.Map // string -> *regexp.Regexp

func compiledRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// MatchBytes applies r to raw bytes. equals compares bytes directly
// (spec §4.D, "equals compares bytes"); the remaining rules compare
// the lowercase hex encoding case-insensitively.
func (r MatchRule) MatchBytes(data []byte) (bool, error) {
	if r.Equals != "" {
		want, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(r.Equals), "0x"))
		if err != nil {
			return false, err
		}
		return hex.EncodeToString(want) == hex.EncodeToString(data), nil
	}
	return r.MatchString(hex.EncodeToString(data))
}

// MatchString applies r to an already-stringified value (case
// insensitively for starts_with/ends_with, per spec §4.D).
func (r MatchRule) MatchString(s string) (bool, error) {
	ls := strings.ToLower(s)
	switch {
	case r.Equals != "":
		return ls == strings.ToLower(r.Equals), nil
	case r.StartsWith != "":
		return strings.HasPrefix(ls, strings.ToLower(r.StartsWith)), nil
	case r.EndsWith != "":
		return strings.HasSuffix(ls, strings.ToLower(r.EndsWith)), nil
	case r.Contains != "":
		return strings.Contains(s, r.Contains), nil
	case r.MatchesRegex != "":
		re, err := compiledRegex(r.MatchesRegex)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	default:
		return false, nil
	}
}
