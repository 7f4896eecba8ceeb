package services

import (
	"strings"

	"github.com/caio-sobreiro/dcmstream/dicom"
	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/types"
)

// queryLevelKeys maps a Query/Retrieve Level to the attribute that
// identifies one entity at that level.
var queryLevelKeys = map[string]types.Tag{
	"PATIENT": types.PatientIDTag,
	"STUDY":   types.StudyInstanceUIDTag,
	"SERIES":  types.SeriesInstanceUIDTag,
	"IMAGE":   types.SOPInstanceUIDTag,
}

// queryLevel returns the Query/Retrieve Level of an identifier and the key
// that identifies one entity at it. Without a level every instance is an
// entity of its own.
func queryLevel(op string, query *dicom.Dataset) (string, types.Tag, error) {
	if query == nil {
		return "", types.Tag{}, dcmerrors.NewDIMSEError(op, types.StatusIdentifierDoesNotMatch, "request has no identifier")
	}
	level := strings.ToUpper(query.GetString(types.QueryRetrieveLevelTag))
	if level == "" {
		return "", types.SOPInstanceUIDTag, nil
	}
	key, ok := queryLevelKeys[level]
	if !ok {
		return "", types.Tag{}, dcmerrors.NewDIMSEError(op, types.StatusIdentifierDoesNotMatch, "unknown query/retrieve level "+level)
	}
	return level, key, nil
}

func isMatchingKey(tag types.Tag) bool {
	if tag.Group == 0x0002 || tag.Group == 0x0000 {
		return false
	}
	return tag != types.QueryRetrieveLevelTag && tag != types.SpecificCharacterSetTag
}

// matchDataset reports whether candidate satisfies every matching key of
// query. Empty keys and sequences match universally; non-text keys match
// on their raw bytes.
func matchDataset(query, candidate *dicom.Dataset) bool {
	for _, attr := range query.Attributes() {
		tag := attr.Tag()
		el, ok := attr.(*dicom.Element)
		if !ok || !isMatchingKey(tag) || el.Len() == 0 {
			continue
		}
		vr := el.VR()
		if !vr.IsText() {
			other, ok := candidate.GetElement(tag)
			if !ok || !bytesEqual(el, other) {
				return false
			}
			continue
		}

		pattern := query.GetString(tag)
		if pattern == "" || pattern == "*" {
			continue
		}
		values := candidate.GetStrings(tag)
		if len(values) == 0 {
			return false
		}
		matched := false
		for _, v := range values {
			if matchValue(vr, pattern, v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func bytesEqual(a, b *dicom.Element) bool {
	ab, err := a.Buffer().Bytes()
	if err != nil {
		return false
	}
	bb, err := b.Buffer().Bytes()
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

// matchValue applies single value, list of UID, range and wildcard
// matching to one candidate value.
func matchValue(vr types.VR, pattern, value string) bool {
	switch vr {
	case types.VR_UI:
		for _, uid := range strings.Split(pattern, "\\") {
			if strings.TrimSpace(uid) == value {
				return true
			}
		}
		return false
	case types.VR_DA, types.VR_TM, types.VR_DT:
		if lo, hi, ok := strings.Cut(pattern, "-"); ok {
			if lo != "" && value < lo {
				return false
			}
			// An upper bound without seconds still covers the whole minute.
			if hi != "" && value > hi && !strings.HasPrefix(value, hi) {
				return false
			}
			return true
		}
	case types.VR_PN:
		return wildcardMatch(strings.ToUpper(pattern), strings.ToUpper(value))
	}
	return wildcardMatch(pattern, value)
}

// wildcardMatch matches value against pattern, where '*' matches any run
// of characters and '?' exactly one.
func wildcardMatch(pattern, value string) bool {
	p, v := []rune(pattern), []rune(value)
	pi, vi := 0, 0
	star, mark := -1, 0
	for vi < len(v) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == v[vi]):
			pi++
			vi++
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, vi
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			vi = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// buildIdentifier returns the response identifier of candidate for query:
// every key of the query, with the candidate's value or empty.
func buildIdentifier(query, candidate *dicom.Dataset, level string) *dicom.Dataset {
	ds := dicom.NewDatasetWithSyntax(candidate.TransferSyntax())
	if cs, ok := candidate.Get(types.SpecificCharacterSetTag); ok {
		ds.Add(cs)
	}
	if level != "" {
		_ = ds.AddString(types.QueryRetrieveLevelTag, types.VR_CS, level)
	}
	for _, attr := range query.Attributes() {
		tag := attr.Tag()
		if !isMatchingKey(tag) {
			continue
		}
		if found, ok := candidate.Get(tag); ok {
			ds.Add(found)
			continue
		}
		if _, isSeq := attr.(*dicom.Sequence); isSeq {
			ds.AddSequence(tag)
			continue
		}
		ds.AddBytes(tag, attr.VR(), nil)
	}
	return ds
}
