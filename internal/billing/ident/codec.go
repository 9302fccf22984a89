// Package ident packs several gateway-issued ids into one opaque identifier
// and unpacks them again on a later call.
//
// Parts must not contain the separator. Encode does not check this;
// EncodeStrict does and reports the collision instead of producing a token
// that would decode differently.
package ident

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSeparatorInPart reports a part that contains the codec separator.
	ErrSeparatorInPart = errors.New("identifier part contains separator")
	// ErrEmptyPart reports an empty identifier part.
	ErrEmptyPart = errors.New("identifier part is empty")
)

// Codec joins and splits identifier parts around Separator.
type Codec struct {
	Separator string
}

var (
	// Pipe is the separator used for vault ids such as "customer|paymethod".
	Pipe = Codec{Separator: "|"}
	// Hash is the separator used for transaction authorizations such as
	// "transaction_id#authorization_code".
	Hash = Codec{Separator: "#"}
)

// Encode joins parts with Pipe.
func Encode(parts ...string) string { return Pipe.Encode(parts...) }

// Decode splits token with Pipe.
func Decode(token string) []string { return Pipe.Decode(token) }

func (c Codec) sep() string {
	if c.Separator == "" {
		return Pipe.Separator
	}
	return c.Separator
}

// Encode joins parts with the separator. An empty list encodes to "".
func (c Codec) Encode(parts ...string) string {
	return strings.Join(parts, c.sep())
}

// EncodeStrict is Encode with validation of every part.
func (c Codec) EncodeStrict(parts ...string) (string, error) {
	sep := c.sep()
	for i, part := range parts {
		if part == "" {
			return "", fmt.Errorf("part %d: %w", i, ErrEmptyPart)
		}
		if strings.Contains(part, sep) {
			return "", fmt.Errorf("part %d %q: %w", i, part, ErrSeparatorInPart)
		}
	}
	return c.Encode(parts...), nil
}

// Decode splits token on every separator. A token without the separator
// yields a single part, so callers can take the same path whether or not a
// previous step produced a composite id. "" decodes to an empty list.
func (c Codec) Decode(token string) []string {
	if token == "" {
		return []string{}
	}
	return strings.Split(token, c.sep())
}

// DecodeN splits token on the first n-1 separators, returning at most n
// parts; the last part keeps any remaining separators.
func (c Codec) DecodeN(token string, n int) []string {
	if token == "" {
		return []string{}
	}
	return strings.SplitN(token, c.sep(), n)
}

// Part returns the i-th part of token, or "" when it has fewer parts.
func (c Codec) Part(token string, i int) string {
	parts := c.Decode(token)
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}

// IsComposite reports whether token carries more than one part.
func (c Codec) IsComposite(token string) bool {
	return strings.Contains(token, c.sep())
}
