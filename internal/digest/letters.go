// Package digest resolves the letter shorthand users write in digest
// replies back to canonical invite ids.
package digest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/invite-sync/internal/model"
)

// maxLetters caps derived mappings at the single-letter alphabet.
const maxLetters = 26

// BuildLetterMapping derives the letter→invite mapping for a snapshot:
// A, B, C... by item position, capped at 26 items. Keys defined by the
// snapshot's stored partial mapping override the derived letters.
// Identical input always yields an identical mapping.
func BuildLetterMapping(snap *model.DigestSnapshot) map[string]string {
	mapping := make(map[string]string)
	if snap == nil {
		return mapping
	}

	for i, item := range snap.Items {
		if i >= maxLetters {
			break
		}
		mapping[string(rune('A'+i))] = item.InviteID
	}

	for letter, inviteID := range snap.LetterMapping {
		key := strings.ToUpper(strings.TrimSpace(letter))
		if len(key) == 1 && key[0] >= 'A' && key[0] <= 'Z' {
			mapping[key] = inviteID
		}
	}

	return mapping
}

// RenderItems produces the lettered digest body lines for a snapshot.
// Deterministic for identical input.
func RenderItems(snap *model.DigestSnapshot) []string {
	if snap == nil {
		return nil
	}
	lines := make([]string, 0, len(snap.Items))
	for i, item := range snap.Items {
		if i >= maxLetters {
			break
		}
		lines = append(lines, fmt.Sprintf("%c. %s", 'A'+i, item.Title))
	}
	return lines
}

var (
	singleLetterPattern = regexp.MustCompile(`^([A-Za-z])$`)
	invitePrefixPattern = regexp.MustCompile(`(?i)^invite\s+([A-Za-z])$`)
)

// Resolver maps free-form reply references to canonical invite ids
// through an ordered list of matcher strategies. The order is a fixed
// contract: exact mapping match, bare single letter, "Invite X"
// prefix, then identity fallback.
type Resolver struct {
	mapping map[string]string
}

// NewResolver creates a resolver over a snapshot's letter mapping.
// A nil snapshot yields a resolver with an empty mapping, where every
// reference falls through to the identity strategy.
func NewResolver(snap *model.DigestSnapshot) *Resolver {
	return &Resolver{mapping: BuildLetterMapping(snap)}
}

// Letters returns the mapping's letters in alphabetical order.
func (r *Resolver) Letters() []string {
	letters := make([]string, 0, len(r.mapping))
	for l := 'A'; l <= 'Z'; l++ {
		if _, ok := r.mapping[string(l)]; ok {
			letters = append(letters, string(l))
		}
	}
	return letters
}

// Resolve maps one reference string to an invite id. Unmatched
// references pass through unchanged; the caller treats a decision for
// an unknown invite id as a no-op.
func (r *Resolver) Resolve(reference string) string {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return ""
	}

	// Exact mapping match, accepting bare-letter and "INVITE X" forms.
	key := strings.ToUpper(ref)
	if rest, ok := strings.CutPrefix(key, "INVITE "); ok {
		key = strings.TrimSpace(rest)
	}
	if id, ok := r.mapping[key]; ok {
		return id
	}

	if m := singleLetterPattern.FindStringSubmatch(ref); m != nil {
		if id, ok := r.mapping[strings.ToUpper(m[1])]; ok {
			return id
		}
	}

	if m := invitePrefixPattern.FindStringSubmatch(ref); m != nil {
		if id, ok := r.mapping[strings.ToUpper(m[1])]; ok {
			return id
		}
	}

	// The reference may already be a canonical invite id.
	return ref
}
